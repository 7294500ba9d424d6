// Package actions holds the concrete Linux collaborators behind task actions:
// memory reclaim, disk cleanup by category, the defender unit toggle, and the
// RAM/disk usage sampler used by condition schedules.
package actions
