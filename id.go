package codeflow

import "go.jetify.com/typeid"

// NewWorkflowID returns a new unique workflow identifier. The ID doubles as
// the checkpoint key.
func NewWorkflowID() string {
	id, err := typeid.WithPrefix("wf")
	if err != nil {
		panic(err)
	}
	return id.String()
}
