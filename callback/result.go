package callback

import (
	"github.com/joeycumines/go-framesync/scene"
)

type (
	// Result is the payload delivered to a callback. It is a closed set:
	// exactly one of Created, Applied, or Failed.
	Result interface {
		isResult()
	}

	// Created reports that a creation command took effect, carrying the new
	// object's id.
	Created struct {
		ID scene.ID
	}

	// Applied reports that a mutation command took effect.
	Applied struct {
		ID scene.ID
	}

	// Failed reports that the command could not take effect.
	Failed struct {
		Err error
	}
)

func (Created) isResult() {}
func (Applied) isResult() {}
func (Failed) isResult()  {}

// ResultFor builds the Result a consumer reports for cmd, given the outcome
// of applying it.
func ResultFor(cmd scene.Command, err error) Result {
	if err != nil {
		return Failed{Err: err}
	}
	switch cmd.Kind {
	case scene.CommandCreateMesh, scene.CommandCreateCamera:
		return Created{ID: cmd.Target}
	default:
		return Applied{ID: cmd.Target}
	}
}

// Target returns the id carried by r, or zero for Failed (or nil).
func Target(r Result) scene.ID {
	switch r := r.(type) {
	case Created:
		return r.ID
	case Applied:
		return r.ID
	case Failed, nil:
		return 0
	default:
		panic("callback: unhandled result type")
	}
}
