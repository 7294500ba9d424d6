// Package logx configures maintd's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller), or JSON when pretty is off
//   - File output JSON-structured
//   - Hot-swappable sinks via Service.Apply
package logx
