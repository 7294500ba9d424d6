// Package api is the local HTTP control surface of maintd: task CRUD, the
// global scheduler switch, launch settings, run-now, the run journal and a
// websocket stream of scheduler events. Client is the Go side used by the CLI.
package api
