package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
)

type fakeSource struct {
	mu     sync.Mutex
	calls  int
	gotBM  []domain.Bookmark
	next   domain.Bookmark
	out    []domain.Incident
	err    error
	params domain.FetchParams
}

func (f *fakeSource) FetchIncidents(_ context.Context, p domain.FetchParams, bm domain.Bookmark) (domain.Bookmark, []domain.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.params = p
	f.gotBM = append(f.gotBM, bm)
	if f.err != nil {
		return bm, nil, f.err
	}
	return f.next, f.out, nil
}

type memBookmarks struct {
	data    map[string]domain.Bookmark
	saves   int
	loadErr error
}

func newMemBookmarks() *memBookmarks {
	return &memBookmarks{data: map[string]domain.Bookmark{}}
}

func (m *memBookmarks) Load(_ context.Context, key string) (domain.Bookmark, bool, error) {
	if m.loadErr != nil {
		return domain.Bookmark{}, false, m.loadErr
	}
	bm, ok := m.data[key]
	return bm, ok, nil
}

func (m *memBookmarks) Save(_ context.Context, key string, bm domain.Bookmark) error {
	m.saves++
	m.data[key] = bm
	return nil
}

type memIncidents struct {
	saved []domain.Incident
	err   error
}

func (m *memIncidents) SaveBatch(_ context.Context, incidents []domain.Incident) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, incidents...)
	return nil
}

func (m *memIncidents) FindByAlertID(context.Context, string) (*domain.Incident, error) {
	return nil, nil
}

func (m *memIncidents) FindSince(context.Context, time.Time, int) ([]domain.Incident, error) {
	return m.saved, nil
}

type recordingNotifier struct {
	got [][]domain.Incident
	err error
}

func (n *recordingNotifier) NotifyIncidents(incidents []domain.Incident) error {
	n.got = append(n.got, incidents)
	return n.err
}

func twoIncidents() []domain.Incident {
	return []domain.Incident{
		{AlertID: "a", SeqID: 151, Severity: 2},
		{AlertID: "b", SeqID: 152, Severity: 3},
	}
}

func TestRunOnce_StoresThenAdvancesBookmark(t *testing.T) {
	src := &fakeSource{next: domain.Bookmark{LastFetchedID: 152}, out: twoIncidents()}
	bms := newMemBookmarks()
	bms.data["feed"] = domain.Bookmark{LastFetchedID: 150}
	store := &memIncidents{}
	notifier := &recordingNotifier{}

	r := NewRunner(Options{
		Source:         src,
		Bookmarks:      bms,
		Incidents:      store,
		Notifier:       notifier,
		BookmarkKey:    "feed",
		Params:         domain.FetchParams{Severity: "Medium"},
		NotifySeverity: 3,
		Logger:         zerolog.Nop(),
	})

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []domain.Bookmark{{LastFetchedID: 150}}, src.gotBM)
	assert.Equal(t, "Medium", src.params.Severity)
	assert.Len(t, store.saved, 2)
	assert.Equal(t, int64(152), bms.data["feed"].LastFetchedID)

	require.Len(t, notifier.got, 1)
	require.Len(t, notifier.got[0], 1)
	assert.Equal(t, "b", notifier.got[0][0].AlertID)
}

func TestRunOnce_FirstFetchSavesBookmark(t *testing.T) {
	src := &fakeSource{}
	bms := newMemBookmarks()

	r := NewRunner(Options{Source: src, Bookmarks: bms, Logger: zerolog.Nop()})
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, found := bms.data["default"]
	assert.True(t, found)
	assert.Equal(t, 1, bms.saves)

	// Nothing new on the second cycle, so nothing is written.
	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, bms.saves)
}

func TestRunOnce_FetchErrorKeepsBookmark(t *testing.T) {
	src := &fakeSource{err: errors.New("vendor down")}
	bms := newMemBookmarks()
	bms.data["default"] = domain.Bookmark{LastFetchedID: 150}

	r := NewRunner(Options{Source: src, Bookmarks: bms, Logger: zerolog.Nop()})
	_, err := r.RunOnce(context.Background())
	assert.ErrorContains(t, err, "vendor down")
	assert.Equal(t, int64(150), bms.data["default"].LastFetchedID)
	assert.Zero(t, bms.saves)
}

func TestRunOnce_StoreErrorKeepsBookmark(t *testing.T) {
	src := &fakeSource{next: domain.Bookmark{LastFetchedID: 152}, out: twoIncidents()}
	bms := newMemBookmarks()
	bms.data["default"] = domain.Bookmark{LastFetchedID: 150}

	r := NewRunner(Options{
		Source:    src,
		Bookmarks: bms,
		Incidents: &memIncidents{err: errors.New("disk full")},
		Logger:    zerolog.Nop(),
	})
	_, err := r.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int64(150), bms.data["default"].LastFetchedID)
}

func TestRunOnce_LoadError(t *testing.T) {
	src := &fakeSource{}
	r := NewRunner(Options{
		Source:    src,
		Bookmarks: &memBookmarks{loadErr: errors.New("redis gone")},
		Logger:    zerolog.Nop(),
	})

	_, err := r.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, src.calls)
}

func TestRunOnce_NotifierErrorIgnored(t *testing.T) {
	src := &fakeSource{next: domain.Bookmark{LastFetchedID: 152}, out: twoIncidents()}
	bms := newMemBookmarks()

	r := NewRunner(Options{
		Source:    src,
		Bookmarks: bms,
		Notifier:  &recordingNotifier{err: errors.New("slack down")},
		Logger:    zerolog.Nop(),
	})
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(152), bms.data["default"].LastFetchedID)
}

func TestRun_StopsOnCancel(t *testing.T) {
	src := &fakeSource{err: errors.New("always failing")}
	r := NewRunner(Options{Source: src, Bookmarks: newMemBookmarks(), Logger: zerolog.Nop()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Run(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.GreaterOrEqual(t, src.calls, 2)
}
