package invoice

import (
	"github.com/extractly/invoice-desk/internal/extract"
	"github.com/extractly/invoice-desk/internal/session"
	"github.com/extractly/invoice-desk/internal/storage"
)

// Workspace bundles the editing state for one user: the draft, its upload
// pipeline and the submission gate.
type Workspace struct {
	Draft     *DraftStore
	Pipeline  *Pipeline
	Submitter *Submitter
}

// NewWorkspace creates a workspace around a fresh draft.
func NewWorkspace(sessions session.Source, previews, remote storage.ObjectStore, extractor extract.Extractor, confirmer Confirmer, recorder SubmissionRecorder, render Renderer) *Workspace {
	draft := NewDraftStore()
	return &Workspace{
		Draft:     draft,
		Pipeline:  NewPipeline(sessions, previews, remote, extractor, draft, render),
		Submitter: NewSubmitter(draft, sessions, confirmer, recorder),
	}
}
