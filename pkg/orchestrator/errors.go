package orchestrator

import "errors"

var (
	// ErrBusy is returned when a request arrives while the service state
	// does not permit it (busy/not_configured/unknown).
	ErrBusy = errors.New("orchestrator: service is busy")

	// ErrNotConfigured names the no-STT-and-no-TTS-model condition. The
	// orchestrator's request methods do not return it: a request made in
	// the not_configured state gets ErrBusy.
	ErrNotConfigured = errors.New("orchestrator: no model configured")

	// ErrUnknownTask is returned for an operation addressing a task id
	// that is not the current, pending, or previous task.
	ErrUnknownTask = errors.New("orchestrator: unknown task")

	// ErrNoModel is returned when the resolver cannot find a usable model
	// for the requested role/key.
	ErrNoModel = errors.New("orchestrator: no matching model")
)
