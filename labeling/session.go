package labeling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionState is the lifecycle state of a labeling session.
type SessionState string

const (
	StateLoading      SessionState = "loading"
	StateReady        SessionState = "ready"
	StatePageChanging SessionState = "page_changing"
	StateEmpty        SessionState = "empty"
)

// ErrNotReady is returned by editing operations while no page is loaded.
var ErrNotReady = errors.New("no document page loaded")

// DocumentUpdate is the full snapshot written when a document is approved.
type DocumentUpdate struct {
	ExtractedData []PageData        `json:"extractedData"`
	Fields        map[string]string `json:"fields"`
	Transactions  []TransactionRow  `json:"transactions"`
	Status        string            `json:"status"`
	CurrentPage   int               `json:"currentPage"`
}

// LabelBatch is the set of labels committed for one page.
type LabelBatch struct {
	Mode    Mode            `json:"mode"`
	Records []LabelRecord   `json:"records,omitempty"`
	Groups  []LineItemGroup `json:"groups,omitempty"`
}

// SessionSnapshot is the editing state persisted with SaveSession.
type SessionSnapshot struct {
	DocumentID  string    `json:"document_id"`
	CurrentPage int       `json:"current_page"`
	Mode        Mode      `json:"mode"`
	Labels      []Label   `json:"labels"`
	SavedAt     time.Time `json:"saved_at"`
}

// DocumentStore is the external document store the session reads from and
// writes to. GetDocumentByID returns ErrNotFound for unknown documents.
type DocumentStore interface {
	GetDocumentByID(ctx context.Context, id string) (*Document, error)
	UpdateDocument(ctx context.Context, id string, update DocumentUpdate) (*Document, error)
	SaveLabels(ctx context.Context, documentID string, pageIndex int, batch LabelBatch) error
	SaveSession(ctx context.Context, documentID string, snapshot SessionSnapshot) error
}

// ImageSizer resolves the natural size of a page image.
type ImageSizer interface {
	ImageSize(ctx context.Context, imageURL string) (ImageSize, error)
}

// SessionConfig holds the collaborators of a session.
type SessionConfig struct {
	Store          DocumentStore
	Sizer          ImageSizer
	Adapter        *Adapter
	Mode           Mode
	Dispatcher     Dispatcher
	Notifier       Notifier
	OnLabelsChange func([]Label)
}

// Snapshot is the read model of a session for the UI.
type Snapshot struct {
	SessionID       string            `json:"session_id"`
	State           SessionState      `json:"state"`
	Pending         bool              `json:"pending"`
	DocumentID      string            `json:"document_id"`
	FileName        string            `json:"file_name,omitempty"`
	Status          string            `json:"status,omitempty"`
	CurrentPage     int               `json:"current_page"`
	PageCount       int               `json:"page_count"`
	ImageURL        string            `json:"image_url,omitempty"`
	ImageSize       ImageSize         `json:"image_size"`
	Mode            Mode              `json:"mode"`
	Fields          map[string]string `json:"extractedData"`
	Transactions    []TransactionRow  `json:"transactions"`
	Labels          []Label           `json:"labels"`
	SelectedField   string            `json:"selected_field"`
	SelectedLabelID string            `json:"selected_label_id,omitempty"`
	Drawing         bool              `json:"drawing"`
	Draft           *Rect             `json:"draft,omitempty"`
	Commits         []Commit          `json:"commits"`
	Unsaved         bool              `json:"unsaved"`
}

// Session drives the labeling of one document at a time. All methods are safe
// for concurrent use.
type Session struct {
	ID string

	mu         sync.Mutex
	cfg        SessionConfig
	state      SessionState
	pending    bool
	documentID string
	doc        *Document
	page       int
	size       ImageSize
	view       PageView
	store      *Store
	draw       *DrawController
	stash      map[Mode][]Label
	generation uint64
	commits    map[string]*Commit
	order      []string
}

// NewSession creates an idle session. Missing collaborators get defaults.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Adapter == nil {
		cfg.Adapter = NewAdapter(nil, nil, nil)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDocument
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = GoDispatcher{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewNotificationLog(100)
	}
	s := &Session{
		ID:      uuid.New().String(),
		cfg:     cfg,
		state:   StateEmpty,
		stash:   make(map[Mode][]Label),
		commits: make(map[string]*Commit),
	}
	s.store = NewStore(cfg.Mode, cfg.Adapter.Palette, cfg.OnLabelsChange)
	s.draw = NewDrawController(s.store, s.fieldText)
	return s
}

func (s *Session) logger() *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"session":  s.ID,
		"document": s.documentID,
	})
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PendingDocumentID returns the selected document id when the session is
// waiting for its extraction, or "" otherwise.
func (s *Session) PendingDocumentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEmpty && s.pending {
		return s.documentID
	}
	return ""
}

// SelectDocument loads a document and its first page. A missing document or
// one without extraction data leaves the session Empty and pending. A fetch
// error restores the previous page, if any, and is returned.
func (s *Session) SelectDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.documentID = id
	s.state = StateLoading
	s.draw.Cancel()
	s.mu.Unlock()

	logger := log.WithFields(logrus.Fields{"session": s.ID, "document": id})
	logger.Debug("Fetching document")

	doc, err := s.cfg.Store.GetDocumentByID(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		logger.WithError(err).Error("Failed to fetch document")
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.generation {
			return nil
		}
		if s.doc != nil {
			// Back to the page still on screen, not to a superseded selection.
			s.documentID = s.doc.ID
			s.state = StateReady
		} else {
			s.resetLocked(false)
		}
		return fmt.Errorf("error fetching document %s: %w", id, err)
	}
	if doc == nil || !doc.HasExtraction() {
		logger.Info("Document has no extraction data yet")
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen == s.generation {
			s.resetLocked(true)
		}
		return nil
	}

	return s.loadPage(ctx, gen, id, doc.Clone(), 0)
}

// Reload fetches the selected document again.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	id := s.documentID
	s.mu.Unlock()
	if id == "" {
		return ErrNotReady
	}
	return s.SelectDocument(ctx, id)
}

// NextPage moves to the following page, staying on the last one.
func (s *Session) NextPage(ctx context.Context) error {
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()
	return s.GoToPage(ctx, page+1)
}

// PrevPage moves to the previous page, staying on the first one.
func (s *Session) PrevPage(ctx context.Context) error {
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()
	return s.GoToPage(ctx, page-1)
}

// GoToPage loads page, clamped to the document's page range. Any draw or
// unsaved edit on the current page is discarded.
func (s *Session) GoToPage(ctx context.Context, page int) error {
	s.mu.Lock()
	if s.doc == nil || (s.state != StateReady && s.state != StatePageChanging) {
		s.mu.Unlock()
		return ErrNotReady
	}
	page = clampPage(page, len(s.doc.Pages))
	if page == s.page && s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	s.generation++
	gen := s.generation
	s.state = StatePageChanging
	s.draw.Cancel()
	doc := s.doc
	id := s.documentID
	s.mu.Unlock()

	if err := s.loadPage(ctx, gen, id, doc, page); err != nil {
		return err
	}
	s.saveSession()
	return nil
}

// loadPage resolves the page image size and installs the page if the request
// is still current when it completes.
func (s *Session) loadPage(ctx context.Context, gen uint64, id string, doc *Document, page int) error {
	pageData := doc.Pages[page]
	size := s.resolveSize(ctx, pageData.ImageURL)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.documentID != id {
		log.WithFields(logrus.Fields{
			"session":  s.ID,
			"document": id,
			"page":     page,
		}).Debug("Discarding stale page load")
		return nil
	}
	s.doc = doc
	s.page = page
	s.size = size
	s.pending = false
	s.view = s.cfg.Adapter.Forward(pageData.ExtractedData, size)
	s.stash = map[Mode][]Label{
		ModeDocument:  s.view.DocumentLabels(),
		ModeLineItems: s.view.LineItemLabels(),
	}
	s.store.Replace(s.stash[s.store.Mode()])
	s.state = StateReady
	s.logger().WithFields(logrus.Fields{
		"page":   page,
		"labels": len(s.view.Labels),
	}).Debug("Page loaded")
	return nil
}

func (s *Session) resolveSize(ctx context.Context, imageURL string) ImageSize {
	if s.cfg.Sizer == nil || imageURL == "" {
		return DefaultImageSize
	}
	size, err := s.cfg.Sizer.ImageSize(ctx, imageURL)
	if err != nil || !size.Valid() {
		log.WithError(err).WithField("image_url", imageURL).Warn("Could not resolve page image size, using default frame")
		return DefaultImageSize
	}
	return size
}

func (s *Session) resetLocked(pending bool) {
	s.doc = nil
	s.page = 0
	s.size = ImageSize{}
	s.view = PageView{}
	s.stash = make(map[Mode][]Label)
	s.store.Replace(nil)
	s.state = StateEmpty
	s.pending = pending
}

// SetMode switches between document and line-item labeling. The labels of the
// mode being left are kept for the current page.
func (s *Session) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.store.Mode()
	if mode == current {
		return
	}
	s.draw.Cancel()
	s.stash[current] = s.store.Labels()
	s.store.SetMode(mode)
	s.store.Replace(s.stash[mode])
}

// AddLabel adds a label directly, bypassing the draw controller.
func (s *Session) AddLabel(draft LabelDraft) (Label, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return Label{}, false, ErrNotReady
	}
	label, ok := s.store.AddLabel(draft)
	return label, ok, nil
}

// UpdateLabelText changes the text of a label.
func (s *Session) UpdateLabelText(labelID, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return false, ErrNotReady
	}
	return s.store.UpdateLabelText(labelID, text), nil
}

// DeleteLabel removes a label.
func (s *Session) DeleteLabel(labelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return false, ErrNotReady
	}
	return s.store.DeleteLabel(labelID), nil
}

// SelectLabel selects a label, or clears the selection when labelID is "".
func (s *Session) SelectLabel(labelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return false, ErrNotReady
	}
	return s.store.SelectLabel(labelID), nil
}

// StartEditField selects a field for drawing.
func (s *Session) StartEditField(field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return ErrNotReady
	}
	s.draw.Cancel()
	s.store.StartEditField(field)
	return nil
}

// StopDrawing leaves labeling mode.
func (s *Session) StopDrawing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draw.Cancel()
	s.store.StopDrawing()
}

// PointerDown forwards a pointer-down event to the draw controller.
func (s *Session) PointerDown(p Point) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return false, ErrNotReady
	}
	return s.draw.PointerDown(p), nil
}

// PointerMove forwards a pointer-move event to the draw controller.
func (s *Session) PointerMove(p Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draw.PointerMove(p)
}

// PointerUp finishes a draw and returns the added label, if any.
func (s *Session) PointerUp() (Label, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		s.draw.Cancel()
		return Label{}, false
	}
	return s.draw.PointerUp()
}

// PointerLeave cancels a draw in progress.
func (s *Session) PointerLeave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draw.PointerLeave()
}

// fieldText feeds the draw controller the current value of the selected field.
// Called with s.mu held.
func (s *Session) fieldText(field string) string {
	if s.store.Mode() == ModeLineItems {
		next := s.store.NextItemIndex(field)
		if next != nil && *next < len(s.view.Transactions) {
			return s.view.Transactions[*next].Values[field]
		}
		return ""
	}
	return s.view.Fields[field]
}

// Commit commits the labels of the current mode. Mode, labels and page are
// read under one lock so a concurrent page change cannot split them.
func (s *Session) Commit() (*Commit, error) {
	s.mu.Lock()
	var (
		pending pendingCommit
		err     error
	)
	if s.store.Mode() == ModeLineItems {
		pending, err = s.prepareLineItemCommitLocked(s.store.Labels())
	} else {
		pending, err = s.prepareDocumentCommitLocked(s.store.Labels())
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.dispatchCommit(pending), nil
}

// CommitDocumentLabels applies whole-document labels to the local page data
// and persists them in the background.
func (s *Session) CommitDocumentLabels(labels []Label) (*Commit, error) {
	s.mu.Lock()
	pending, err := s.prepareDocumentCommitLocked(labels)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.dispatchCommit(pending), nil
}

// CommitLineItemLabels applies line-item labels to the local transactions and
// persists them in the background.
func (s *Session) CommitLineItemLabels(labels []Label) (*Commit, error) {
	s.mu.Lock()
	pending, err := s.prepareLineItemCommitLocked(labels)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.dispatchCommit(pending), nil
}

type pendingCommit struct {
	commit  Commit
	batch   LabelBatch
	failure string
}

func (s *Session) prepareDocumentCommitLocked(labels []Label) (pendingCommit, error) {
	if s.state != StateReady {
		return pendingCommit{}, ErrNotReady
	}
	data := &s.doc.Pages[s.page].ExtractedData
	batch := LabelBatch{
		Mode:    ModeDocument,
		Records: s.cfg.Adapter.DocumentRecords(*data, labels, s.size),
	}
	s.cfg.Adapter.ApplyDocumentLabels(data, labels, s.size)
	s.refreshViewLocked()
	return pendingCommit{
		commit:  s.newCommitLocked(CommitDocumentLabels),
		batch:   batch,
		failure: "Failed to save labels",
	}, nil
}

func (s *Session) prepareLineItemCommitLocked(labels []Label) (pendingCommit, error) {
	if s.state != StateReady {
		return pendingCommit{}, ErrNotReady
	}
	data := &s.doc.Pages[s.page].ExtractedData
	batch := LabelBatch{
		Mode:   ModeLineItems,
		Groups: s.cfg.Adapter.LineItemRecords(labels, s.size),
	}
	s.cfg.Adapter.ApplyLineItemLabels(data, labels, s.size)
	s.refreshViewLocked()
	return pendingCommit{
		commit:  s.newCommitLocked(CommitLineItemLabels),
		batch:   batch,
		failure: "Failed to save line item labels",
	}, nil
}

func (s *Session) dispatchCommit(pending pendingCommit) *Commit {
	commit := pending.commit
	s.persist(commit, func(ctx context.Context) error {
		return s.cfg.Store.SaveLabels(ctx, commit.DocumentID, commit.PageIndex, pending.batch)
	}, pending.failure)
	return &commit
}

// saveSession persists the current page and labels in the background.
func (s *Session) saveSession() {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return
	}
	snapshot := SessionSnapshot{
		DocumentID:  s.doc.ID,
		CurrentPage: s.page,
		Mode:        s.store.Mode(),
		Labels:      s.store.Labels(),
		SavedAt:     time.Now(),
	}
	commit := s.newCommitLocked(CommitSession)
	s.mu.Unlock()

	s.persist(commit, func(ctx context.Context) error {
		return s.cfg.Store.SaveSession(ctx, snapshot.DocumentID, snapshot)
	}, "Failed to save labeling session")
}

// SubmitApproval writes the full document snapshot with a new status. The local
// status only changes when the store accepts the update.
func (s *Session) SubmitApproval(ctx context.Context, status string) error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrNotReady
	}
	id := s.doc.ID
	update := DocumentUpdate{
		ExtractedData: s.doc.Clone().Pages,
		Fields:        copyFields(s.view.Fields),
		Transactions:  append([]TransactionRow(nil), s.view.Transactions...),
		Status:        status,
		CurrentPage:   s.page,
	}
	logger := s.logger()
	s.mu.Unlock()

	if _, err := s.cfg.Store.UpdateDocument(ctx, id, update); err != nil {
		logger.WithError(err).WithField("status", status).Error("Failed to submit document status")
		s.notify(NotifyError, id, fmt.Sprintf("Failed to update document status to %s", status))
		return fmt.Errorf("error updating document %s: %w", id, err)
	}

	s.mu.Lock()
	if s.doc != nil && s.doc.ID == id {
		s.doc.Status = status
	}
	s.mu.Unlock()
	logger.WithField("status", status).Info("Document status updated")
	s.notify(NotifySuccess, id, fmt.Sprintf("Document status updated to %s", status))
	return nil
}

func (s *Session) refreshViewLocked() {
	view := s.cfg.Adapter.Forward(s.doc.Pages[s.page].ExtractedData, s.size)
	s.view.Fields = view.Fields
	s.view.Transactions = view.Transactions
}

func (s *Session) newCommitLocked(kind CommitKind) Commit {
	now := time.Now()
	c := &Commit{
		ID:         uuid.New().String(),
		DocumentID: s.doc.ID,
		PageIndex:  s.page,
		Kind:       kind,
		Status:     CommitPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.commits[c.ID] = c
	s.order = append(s.order, c.ID)
	return *c
}

func (s *Session) persist(commit Commit, run func(ctx context.Context) error, failure string) {
	s.cfg.Dispatcher.Dispatch(PersistJob{
		Commit: commit,
		Run:    run,
		Done: func(err error) {
			s.finishCommit(commit, err, failure)
		},
	})
}

func (s *Session) finishCommit(commit Commit, err error, failure string) {
	s.mu.Lock()
	if c, ok := s.commits[commit.ID]; ok {
		c.UpdatedAt = time.Now()
		if err != nil {
			c.Status = CommitFailed
			c.Error = err.Error()
		} else {
			c.Status = CommitSaved
		}
	}
	s.mu.Unlock()

	logger := log.WithFields(logrus.Fields{
		"session":  s.ID,
		"document": commit.DocumentID,
		"page":     commit.PageIndex,
		"commit":   commit.ID,
		"kind":     commit.Kind,
	})
	if err != nil {
		logger.WithError(err).Error(failure)
		s.notify(NotifyError, commit.DocumentID, fmt.Sprintf("%s (page %d)", failure, commit.PageIndex+1))
		return
	}
	logger.Debug("Commit persisted")
}

func (s *Session) notify(level NotificationLevel, documentID, message string) {
	s.cfg.Notifier.Notify(Notification{
		Level:      level,
		Message:    message,
		DocumentID: documentID,
		Time:       time.Now(),
	})
}

// Commits returns the tracked commits, oldest first.
func (s *Session) Commits() []Commit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitsLocked()
}

func (s *Session) commitsLocked() []Commit {
	out := make([]Commit, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.commits[id])
	}
	return out
}

// Snapshot returns the read model of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID:       s.ID,
		State:           s.state,
		Pending:         s.pending,
		DocumentID:      s.documentID,
		CurrentPage:     s.page,
		ImageSize:       s.size,
		Mode:            s.store.Mode(),
		Fields:          copyFields(s.view.Fields),
		Transactions:    append([]TransactionRow{}, s.view.Transactions...),
		Labels:          s.store.Labels(),
		SelectedField:   s.store.SelectedField(),
		SelectedLabelID: s.store.SelectedLabelID(),
		Drawing:         s.store.Drawing(),
		Commits:         s.commitsLocked(),
	}
	if snap.Fields == nil {
		snap.Fields = map[string]string{}
	}
	if s.doc != nil {
		snap.FileName = s.doc.FileName
		snap.Status = s.doc.Status
		snap.PageCount = len(s.doc.Pages)
		snap.ImageURL = s.doc.Pages[s.page].ImageURL
	}
	if draft, ok := s.draw.Draft(); ok {
		snap.Draft = &draft
	}
	for _, c := range snap.Commits {
		if c.Status != CommitSaved {
			snap.Unsaved = true
			break
		}
	}
	return snap
}

// Page returns a copy of a page of the loaded document together with the
// resolved image size of the current page.
func (s *Session) Page(page int) (PageData, ImageSize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return PageData{}, ImageSize{}, ErrNotReady
	}
	if page < 0 || page >= len(s.doc.Pages) {
		return PageData{}, ImageSize{}, fmt.Errorf("page %d out of range", page)
	}
	p := s.doc.Pages[page]
	size := s.size
	if page != s.page {
		size = ImageSize{}
	}
	return PageData{ImageURL: p.ImageURL, ExtractedData: p.ExtractedData.Clone()}, size, nil
}

// Document returns a copy of the loaded document, or nil.
func (s *Session) Document() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

func clampPage(page, count int) int {
	if page < 0 {
		return 0
	}
	if page > count-1 {
		return count - 1
	}
	return page
}

func copyFields(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
