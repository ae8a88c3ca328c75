package inventory

import (
	"errors"
	"sync"

	"github.com/sjteam/spoolscan/internal/models"
	"github.com/sjteam/spoolscan/internal/resolve"
)

// ViewState is the state of the resolved-spool view.
type ViewState string

const (
	ViewClosed          ViewState = "closed"
	ViewShowing         ViewState = "showing"
	ViewConfirmDelete   ViewState = "confirm_delete"
	ViewDeleting        ViewState = "deleting"
	ViewUsage           ViewState = "usage"
	ViewSubmittingUsage ViewState = "submitting_usage"
)

// UsageForm holds the usage sub-dialog's fields exactly as entered.
type UsageForm struct {
	Amount  string `json:"amount"`
	Purpose string `json:"purpose"`
	// Project is either a numeric project id or the name of a project,
	// which is created if it does not exist.
	Project string `json:"project"`
}

// ViewSnapshot is an immutable copy of the view.
type ViewSnapshot struct {
	State      ViewState     `json:"state"`
	Raw        string        `json:"raw,omitempty"`
	Spool      *models.Spool `json:"spool,omitempty"`
	Error      string        `json:"error,omitempty"`
	Form       UsageForm     `json:"form"`
	UsageError string        `json:"usage_error,omitempty"`
}

var (
	errNoSpool      = errors.New("no spool is shown")
	errNotConfirmed = errors.New("delete has not been confirmed")
)

// View is the resolved-spool dialog: it shows either a spool or a resolution
// error, and hosts the delete confirmation and the usage sub-dialog.
type View struct {
	mu       sync.Mutex
	gen      uint64
	state    ViewState
	resolved resolve.ResolvedSpool
	err      string
	form     UsageForm
	usageErr string
}

// NewView returns a closed view.
func NewView() *View {
	return &View{state: ViewClosed}
}

// Present opens the view on a resolution result.
func (v *View) Present(r resolve.ResolvedSpool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gen++
	v.state = ViewShowing
	v.resolved = r
	v.err = r.Error
	v.form = UsageForm{}
	v.usageErr = ""
}

// Close hides the view. Pending action results for it are discarded.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeLocked()
}

func (v *View) closeLocked() {
	v.gen++
	v.state = ViewClosed
	v.resolved = resolve.ResolvedSpool{}
	v.err = ""
	v.form = UsageForm{}
	v.usageErr = ""
}

// RequestDelete opens the delete confirmation.
func (v *View) RequestDelete() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != ViewShowing || v.resolved.Spool == nil {
		return errNoSpool
	}
	v.state = ViewConfirmDelete
	return nil
}

// CancelDelete returns from the confirmation to the spool.
func (v *View) CancelDelete() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == ViewConfirmDelete {
		v.state = ViewShowing
	}
}

// OpenUsage opens the usage sub-dialog with an empty form.
func (v *View) OpenUsage() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != ViewShowing || v.resolved.Spool == nil {
		return errNoSpool
	}
	v.state = ViewUsage
	v.form = UsageForm{}
	v.usageErr = ""
	return nil
}

// SetForm replaces the usage form fields.
func (v *View) SetForm(f UsageForm) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == ViewUsage {
		v.form = f
	}
}

// CloseUsage discards the usage sub-dialog.
func (v *View) CloseUsage() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == ViewUsage || v.state == ViewSubmittingUsage {
		v.gen++
		v.state = ViewShowing
		v.form = UsageForm{}
		v.usageErr = ""
	}
}

// Snapshot returns the current view.
func (v *View) Snapshot() ViewSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	snap := ViewSnapshot{
		State:      v.state,
		Raw:        v.resolved.Raw,
		Error:      v.err,
		Form:       v.form,
		UsageError: v.usageErr,
	}
	if v.resolved.Spool != nil {
		s := *v.resolved.Spool
		snap.Spool = &s
	}
	return snap
}

// beginDelete moves from the confirmation to ViewDeleting.
func (v *View) beginDelete() (models.Spool, uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.resolved.Spool == nil {
		return models.Spool{}, 0, errNoSpool
	}
	if v.state != ViewConfirmDelete {
		return models.Spool{}, 0, errNotConfirmed
	}
	v.state = ViewDeleting
	v.err = ""
	return *v.resolved.Spool, v.gen, nil
}

func (v *View) deleteDone(gen uint64, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return
	}
	if err == nil {
		v.closeLocked()
		return
	}
	v.state = ViewShowing
	v.err = err.Error()
}

func (v *View) beginUsage() (models.Spool, UsageForm, uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != ViewUsage || v.resolved.Spool == nil {
		return models.Spool{}, UsageForm{}, 0, errors.New("usage dialog is not open")
	}
	v.state = ViewSubmittingUsage
	v.usageErr = ""
	return *v.resolved.Spool, v.form, v.gen, nil
}

// usageRejected keeps the sub-dialog open with the entered values.
func (v *View) usageRejected(gen uint64, msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return
	}
	v.state = ViewUsage
	v.usageErr = msg
}

func (v *View) usageDone(gen uint64, amount float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return
	}
	v.state = ViewShowing
	v.form = UsageForm{}
	v.usageErr = ""
	if v.resolved.Spool != nil {
		s := *v.resolved.Spool
		s.WeightRemaining -= amount
		v.resolved.Spool = &s
	}
}
