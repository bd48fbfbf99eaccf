// Package storetest provides an in-memory job state store for worker tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/store"
)

// Memory mirrors the predicates of store.Store over maps.
type Memory struct {
	mu          sync.Mutex
	apps        map[string]*models.JobApplication
	extractions map[string]*models.JobExtraction
	scorings    map[string]*models.JobScoring
	versions    map[string]*models.JobApplicationVersion
	seq         int

	// Calls counts invocations per method name.
	Calls map[string]int
	// FailOn makes the named method return the error once.
	FailOn map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		apps:        make(map[string]*models.JobApplication),
		extractions: make(map[string]*models.JobExtraction),
		scorings:    make(map[string]*models.JobScoring),
		versions:    make(map[string]*models.JobApplicationVersion),
		Calls:       make(map[string]int),
		FailOn:      make(map[string]error),
	}
}

func (m *Memory) hit(name string) error {
	m.Calls[name]++
	if err, ok := m.FailOn[name]; ok {
		delete(m.FailOn, name)
		return err
	}
	return nil
}

func (m *Memory) tick() time.Time {
	m.seq++
	return time.Unix(1700000000, 0).Add(time.Duration(m.seq) * time.Second).UTC()
}

// AddApplication seeds an application and returns it.
func (m *Memory) AddApplication(app *models.JobApplication) *models.JobApplication {
	m.mu.Lock()
	defer m.mu.Unlock()
	if app.Status == "" {
		app.Status = models.StatusPending
	}
	app.CreatedAt = m.tick()
	cp := *app
	m.apps[app.ID] = &cp
	return app
}

// AddExtraction seeds an extraction version.
func (m *Memory) AddExtraction(e *models.JobExtraction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.CreatedAt = m.tick()
	m.extractions[e.ID] = cloneExtraction(e)
}

// Application returns a copy of the stored application.
func (m *Memory) Application(id string) *models.JobApplication {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// Extraction returns a copy of the stored version.
func (m *Memory) Extraction(id string) *models.JobExtraction {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.extractions[id]
	if !ok {
		return nil
	}
	return cloneExtraction(e)
}

// Versions returns all generated versions of an application, oldest first.
func (m *Memory) Versions(appID string) []*models.JobApplicationVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.JobApplicationVersion
	for _, v := range m.versions {
		if v.JobApplicationID == appID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out
}

// Scorings returns all scorings of an application.
func (m *Memory) Scorings(appID string) []*models.JobScoring {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.JobScoring
	for _, sc := range m.scorings {
		if sc.JobApplicationID == appID {
			cp := *sc
			out = append(out, &cp)
		}
	}
	return out
}

func (m *Memory) GetApplication(ctx context.Context, id string) (*models.JobApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("GetApplication"); err != nil {
		return nil, err
	}
	a, ok := m.apps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("UpdateStatus"); err != nil {
		return err
	}
	a, ok := m.apps[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = m.tick()
	return nil
}

func (m *Memory) SaveExtractedFields(ctx context.Context, app *models.JobApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("SaveExtractedFields"); err != nil {
		return err
	}
	a, ok := m.apps[app.ID]
	if !ok {
		return store.ErrNotFound
	}
	a.Title, a.Company, a.Description = app.Title, app.Company, app.Description
	a.RequiredSkills = append([]string(nil), app.RequiredSkills...)
	a.Location, a.Salary, a.EmploymentType, a.Language = app.Location, app.Salary, app.EmploymentType, app.Language
	a.Status = app.Status
	return nil
}

func (m *Memory) SaveScore(ctx context.Context, id string, score int, rationale string, status models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("SaveScore"); err != nil {
		return err
	}
	a, ok := m.apps[id]
	if !ok {
		return store.ErrNotFound
	}
	s := score
	a.MatchScore, a.ScoringRationale, a.Status = &s, rationale, status
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, id, message, trace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("MarkFailed"); err != nil {
		return err
	}
	a, ok := m.apps[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Status, a.ErrorMessage, a.ErrorTrace = models.StatusFailed, message, trace
	return nil
}

func (m *Memory) ResetApplication(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ResetApplication"); err != nil {
		return err
	}
	a, ok := m.apps[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Reset()
	return nil
}

func (m *Memory) CreateExtraction(ctx context.Context, e *models.JobExtraction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("CreateExtraction"); err != nil {
		return err
	}
	if e.VersionNumber == 0 {
		max := 0
		for _, x := range m.extractions {
			if x.JobApplicationID == e.JobApplicationID && x.VersionNumber > max {
				max = x.VersionNumber
			}
		}
		e.VersionNumber = max + 1
	}
	e.CreatedAt = m.tick()
	m.extractions[e.ID] = cloneExtraction(e)
	return nil
}

// Reprocess mirrors store.Store.Reprocess; the reset is skipped when the
// insert fails.
func (m *Memory) Reprocess(ctx context.Context, e *models.JobExtraction) error {
	if err := m.CreateExtraction(ctx, e); err != nil {
		return err
	}
	return m.ResetApplication(ctx, e.JobApplicationID)
}

func (m *Memory) active(appID, filter string) bool {
	a, ok := m.apps[appID]
	if !ok || a.Status.IsTerminal() {
		return false
	}
	return filter == "" || filter == appID
}

func (m *Memory) sortedExtractions(keep func(e *models.JobExtraction) bool, limit int) []*models.JobExtraction {
	var out []*models.JobExtraction
	for _, e := range m.extractions {
		if keep(e) {
			out = append(out, cloneExtraction(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) ListPendingExtractions(ctx context.Context, applicationID string, limit int) ([]*models.JobExtraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListPendingExtractions"); err != nil {
		return nil, err
	}
	return m.sortedExtractions(func(e *models.JobExtraction) bool {
		return e.IsPending() && m.active(e.JobApplicationID, applicationID)
	}, limit), nil
}

func (m *Memory) ListUnscoredExtractions(ctx context.Context, applicationID string, limit int) ([]*models.JobExtraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListUnscoredExtractions"); err != nil {
		return nil, err
	}
	scored := make(map[string]bool)
	for _, sc := range m.scorings {
		scored[sc.JobExtractionID] = true
	}
	return m.sortedExtractions(func(e *models.JobExtraction) bool {
		return !e.IsPending() && !scored[e.ID] && m.active(e.JobApplicationID, applicationID)
	}, limit), nil
}

func (m *Memory) LatestExtraction(ctx context.Context, applicationID string) (*models.JobExtraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("LatestExtraction"); err != nil {
		return nil, err
	}
	var latest *models.JobExtraction
	for _, e := range m.extractions {
		if e.JobApplicationID == applicationID && (latest == nil || e.VersionNumber > latest.VersionNumber) {
			latest = e
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return cloneExtraction(latest), nil
}

func (m *Memory) UpdateExtractionPayload(ctx context.Context, id string, payload map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("UpdateExtractionPayload"); err != nil {
		return err
	}
	e, ok := m.extractions[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Payload = cloneMap(payload)
	return nil
}

// SaveExtraction mirrors store.Store.SaveExtraction. Both FailOn entries are
// consulted before anything is written, so a failure leaves no partial state.
func (m *Memory) SaveExtraction(ctx context.Context, extractionID string, payload map[string]interface{}, app *models.JobApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["SaveExtraction"]++
	if err := m.hit("UpdateExtractionPayload"); err != nil {
		return err
	}
	if err := m.hit("SaveExtractedFields"); err != nil {
		return err
	}
	e, ok := m.extractions[extractionID]
	if !ok {
		return store.ErrNotFound
	}
	a, ok := m.apps[app.ID]
	if !ok {
		return store.ErrNotFound
	}
	e.Payload = cloneMap(payload)
	a.Title, a.Company, a.Description = app.Title, app.Company, app.Description
	a.RequiredSkills = append([]string(nil), app.RequiredSkills...)
	a.Location, a.Salary, a.EmploymentType, a.Language = app.Location, app.Salary, app.EmploymentType, app.Language
	a.Status = app.Status
	return nil
}

// RecordScoring mirrors store.Store.RecordScoring with the same all-or-nothing
// behavior as SaveExtraction.
func (m *Memory) RecordScoring(ctx context.Context, sc *models.JobScoring, rationale string, status models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["RecordScoring"]++
	if err := m.hit("CreateScoring"); err != nil {
		return err
	}
	if err := m.hit("SaveScore"); err != nil {
		return err
	}
	a, ok := m.apps[sc.JobApplicationID]
	if !ok {
		return store.ErrNotFound
	}
	for _, x := range m.scorings {
		if x.JobExtractionID == sc.JobExtractionID {
			return store.ErrNotFound
		}
	}
	sc.CreatedAt = m.tick()
	cp := *sc
	m.scorings[sc.ID] = &cp
	score := sc.Score
	a.MatchScore, a.ScoringRationale, a.Status = &score, rationale, status
	return nil
}

func (m *Memory) CreateScoring(ctx context.Context, sc *models.JobScoring) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("CreateScoring"); err != nil {
		return err
	}
	for _, x := range m.scorings {
		if x.JobExtractionID == sc.JobExtractionID {
			return store.ErrNotFound
		}
	}
	sc.CreatedAt = m.tick()
	cp := *sc
	m.scorings[sc.ID] = &cp
	return nil
}

func (m *Memory) LatestScoring(ctx context.Context, applicationID string) (*models.JobScoring, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("LatestScoring"); err != nil {
		return nil, err
	}
	var latest *models.JobScoring
	for _, sc := range m.scorings {
		if sc.JobApplicationID == applicationID && (latest == nil || sc.CreatedAt.After(latest.CreatedAt)) {
			latest = sc
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) CreateVersion(ctx context.Context, v *models.JobApplicationVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("CreateVersion"); err != nil {
		return err
	}
	max := 0
	for _, x := range m.versions {
		if x.JobApplicationID == v.JobApplicationID && x.VersionNumber > max {
			max = x.VersionNumber
		}
	}
	v.VersionNumber = max + 1
	v.CreatedAt = m.tick()
	cp := *v
	m.versions[v.ID] = &cp
	return nil
}

func (m *Memory) SaveVersion(ctx context.Context, v *models.JobApplicationVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.RefreshCompleted()
	if err := m.hit("SaveVersion"); err != nil {
		return err
	}
	x, ok := m.versions[v.ID]
	if !ok {
		return store.ErrNotFound
	}
	x.CoverLetter, x.EmailSubject, x.EmailBody = v.CoverLetter, v.EmailSubject, v.EmailBody
	x.ResumeData = cloneMap(v.ResumeData)
	x.ResumePath, x.Completed, x.EmailSent = v.ResumePath, v.Completed, v.EmailSent
	return nil
}

func (m *Memory) MarkVersionSent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("MarkVersionSent"); err != nil {
		return err
	}
	x, ok := m.versions[id]
	if !ok || !x.Completed {
		return store.ErrNotFound
	}
	now := m.tick()
	x.EmailSent, x.SentAt = true, &now
	return nil
}

func (m *Memory) GetVersion(ctx context.Context, id string) (*models.JobApplicationVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("GetVersion"); err != nil {
		return nil, err
	}
	x, ok := m.versions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *x
	return &cp, nil
}

func (m *Memory) LatestVersion(ctx context.Context, applicationID string) (*models.JobApplicationVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("LatestVersion"); err != nil {
		return nil, err
	}
	var latest *models.JobApplicationVersion
	for _, v := range m.versions {
		if v.JobApplicationID == applicationID && (latest == nil || v.VersionNumber > latest.VersionNumber) {
			latest = v
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	cp.ResumeData = cloneMap(latest.ResumeData)
	return &cp, nil
}

func (m *Memory) ListGenerationCandidates(ctx context.Context, applicationID string, threshold, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListGenerationCandidates"); err != nil {
		return nil, err
	}
	var apps []*models.JobApplication
	for _, a := range m.apps {
		switch a.Status {
		case models.StatusScored, models.StatusGenerated, models.StatusPDFReady:
		default:
			continue
		}
		if a.MatchScore == nil || *a.MatchScore < threshold {
			continue
		}
		if applicationID != "" && a.ID != applicationID {
			continue
		}
		if m.hasCompletedForLatestScoring(a.ID) {
			continue
		}
		apps = append(apps, a)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].CreatedAt.Before(apps[j].CreatedAt) })
	var ids []string
	for _, a := range apps {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (m *Memory) hasCompletedForLatestScoring(appID string) bool {
	var latest *models.JobScoring
	for _, sc := range m.scorings {
		if sc.JobApplicationID == appID && (latest == nil || sc.CreatedAt.After(latest.CreatedAt)) {
			latest = sc
		}
	}
	if latest == nil {
		return false
	}
	for _, v := range m.versions {
		if v.JobApplicationID == appID && v.Completed && v.JobScoringID == latest.ID {
			return true
		}
	}
	return false
}

func (m *Memory) ListUnsentVersions(ctx context.Context, applicationID string, limit int) ([]*models.JobApplicationVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListUnsentVersions"); err != nil {
		return nil, err
	}
	var out []*models.JobApplicationVersion
	for _, v := range m.versions {
		a := m.apps[v.JobApplicationID]
		if !v.Completed || v.EmailSent || a == nil || a.Status.IsTerminal() {
			continue
		}
		if latest := m.latestVersionLocked(a.ID); latest != nil && latest.ID != v.ID {
			continue
		}
		if applicationID != "" && a.ID != applicationID {
			continue
		}
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) latestVersionLocked(appID string) *models.JobApplicationVersion {
	var latest *models.JobApplicationVersion
	for _, v := range m.versions {
		if v.JobApplicationID == appID && (latest == nil || v.VersionNumber > latest.VersionNumber) {
			latest = v
		}
	}
	return latest
}

func cloneExtraction(e *models.JobExtraction) *models.JobExtraction {
	cp := *e
	cp.Payload = cloneMap(e.Payload)
	return &cp
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
