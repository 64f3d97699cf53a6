package history

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/statuspulse/internal/database"
	"github.com/bryan-buckman/statuspulse/internal/model"
)

// failingStore accepts a fixed number of appends and fails afterwards.
type failingStore struct {
	allow   int
	appends int
}

func (s *failingStore) Close() error                          { return nil }
func (s *failingStore) DatabaseType() string                  { return "failing" }
func (s *failingStore) Load() ([]model.IncidentRecord, error) { return nil, nil }
func (s *failingStore) Append([]model.IncidentRecord) error {
	if s.appends >= s.allow {
		return errors.New("disk full")
	}
	s.appends++
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func record(id, date string, color model.Severity) model.IncidentRecord {
	return model.IncidentRecord{
		ID:        id,
		Date:      date,
		Timestamp: "2024-01-01 00:00:00",
		Title:     "title " + id,
		Status:    "status " + id,
		Color:     color,
	}
}

func newJSONHistory(t *testing.T) (*History, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "status_history.json")
	h := New(database.NewJSON(path), quietLogger())
	require.NoError(t, h.Load())
	return h, path
}

func TestLoadEmpty(t *testing.T) {
	h, _ := newJSONHistory(t)
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.All())
	assert.False(t, h.Contains("a"))
}

func TestAppendRoundTrip(t *testing.T) {
	h, path := newJSONHistory(t)

	first := record("a", "01012024", model.Red)
	last := model.IncidentRecord{
		ID:        "tag:status.example.com,2005:Incident/42",
		Date:      "15062024",
		Timestamp: "2024-06-15 13:45:09",
		Title:     "Degraded performance",
		Status:    "We are investigating elevated error rates",
		Color:     model.Yellow,
	}
	require.NoError(t, h.Append(first))
	require.NoError(t, h.Append(last))

	reloaded := New(database.NewJSON(path), quietLogger())
	require.NoError(t, reloaded.Load())

	all := reloaded.All()
	require.Len(t, all, 2)
	assert.Equal(t, last, all[len(all)-1])
	assert.Equal(t, first, all[0])
	assert.True(t, reloaded.Contains(last.ID))
}

func TestAppendDuplicateRejected(t *testing.T) {
	h, path := newJSONHistory(t)

	require.NoError(t, h.Append(record("a", "01012024", model.Red)))
	require.NoError(t, h.Append(record("b", "02012024", model.Green)))

	err := h.Append(record("a", "03012024", model.Yellow))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))

	reloaded := New(database.NewJSON(path), quietLogger())
	require.NoError(t, reloaded.Load())
	ids := []string{}
	for _, r := range reloaded.All() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestAppendMissingID(t *testing.T) {
	h, _ := newJSONHistory(t)
	err := h.Append(record("", "01012024", model.Green))
	assert.True(t, errors.Is(err, ErrMissingID))
	assert.Equal(t, 0, h.Len())
}

func TestAppendIfAbsent(t *testing.T) {
	h, _ := newJSONHistory(t)

	added, err := h.AppendIfAbsent(record("a", "01012024", model.Red))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = h.AppendIfAbsent(record("a", "01012024", model.Red))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, h.Len())
}

func TestAppendWriteFailurePropagates(t *testing.T) {
	store := &failingStore{allow: 1}
	h := New(store, quietLogger())
	require.NoError(t, h.Load())

	require.NoError(t, h.Append(record("a", "01012024", model.Red)))

	added, err := h.AppendIfAbsent(record("b", "02012024", model.Green))
	require.Error(t, err)
	assert.False(t, added)
	assert.False(t, h.Contains("b"))
	assert.Equal(t, 1, h.Len())

	// Once the backend recovers the same record is accepted.
	store.allow = 2
	added, err = h.AppendIfAbsent(record("b", "02012024", model.Green))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []model.IncidentRecord{record("a", "01012024", model.Red), record("b", "02012024", model.Green)}, h.All())
}

func TestLoadCorruptIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status_history.json")
	require.NoError(t, os.WriteFile(path, []byte("[{\"id\": "), 0o644))

	h := New(database.NewJSON(path), quietLogger())
	require.NoError(t, h.Load())
	assert.Equal(t, 0, h.Len())

	// The next append replaces the unreadable document.
	require.NoError(t, h.Append(record("a", "01012024", model.Red)))
	reloaded := New(database.NewJSON(path), quietLogger())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 1, reloaded.Len())
}

func TestLoadReadErrorPropagates(t *testing.T) {
	// A directory in place of the document cannot be read as a file.
	dir := t.TempDir()
	h := New(database.NewJSON(dir), quietLogger())
	assert.Error(t, h.Load())
}

func TestRangeInclusive(t *testing.T) {
	h, _ := newJSONHistory(t)
	require.NoError(t, h.Append(record("a", "01012024", model.Green)))
	require.NoError(t, h.Append(record("b", "15062024", model.Yellow)))
	require.NoError(t, h.Append(record("c", "31122024", model.Red)))

	got := h.Range(1012024, 15062024)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	assert.Len(t, h.Range(31122024, 31122024), 1)
	assert.Empty(t, h.Range(32122024, 99999999))
}

func TestRangeSkipsNonNumericDates(t *testing.T) {
	h, _ := newJSONHistory(t)
	require.NoError(t, h.Append(record("a", "garbage", model.Green)))
	require.NoError(t, h.Append(record("b", "01012024", model.Green)))

	got := h.Range(0, 99999999)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestBySeverity(t *testing.T) {
	h, _ := newJSONHistory(t)
	require.NoError(t, h.Append(record("a", "01012024", model.Red)))
	require.NoError(t, h.Append(record("b", "02012024", model.Green)))
	require.NoError(t, h.Append(record("c", "03012024", model.Red)))

	red := h.BySeverity(model.Red)
	require.Len(t, red, 2)
	assert.Equal(t, "a", red[0].ID)
	assert.Equal(t, "c", red[1].ID)
	assert.Empty(t, h.BySeverity(model.Yellow))
}

func TestAllReturnsCopy(t *testing.T) {
	h, _ := newJSONHistory(t)
	require.NoError(t, h.Append(record("a", "01012024", model.Red)))

	all := h.All()
	all[0].Title = "mutated"
	assert.Equal(t, "title a", h.All()[0].Title)
}

func TestLoadKeepsRepeatedIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status_history.json")
	legacy := []model.IncidentRecord{
		record("a", "01012024", model.Red),
		record("b", "02012024", model.Green),
		record("a", "03012024", model.Yellow),
	}
	require.NoError(t, database.NewJSON(path).Append(legacy))

	h := New(database.NewJSON(path), quietLogger())
	require.NoError(t, h.Load())
	assert.Equal(t, legacy, h.All())
	assert.True(t, h.Contains("a"))

	added, err := h.AppendIfAbsent(record("a", "04012024", model.Red))
	require.NoError(t, err)
	assert.False(t, added)

	// Rewriting the document keeps every stored record.
	require.NoError(t, h.Append(record("c", "05012024", model.Green)))
	reloaded := New(database.NewJSON(path), quietLogger())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, append(legacy, record("c", "05012024", model.Green)), reloaded.All())
}

func TestAppendIfAbsentConcurrent(t *testing.T) {
	h, path := newJSONHistory(t)

	const workers = 16
	var (
		wg    sync.WaitGroup
		added atomic.Int32
		start = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := h.AppendIfAbsent(record("same", "01012024", model.Red))
			assert.NoError(t, err)
			if ok {
				added.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), added.Load())
	assert.Equal(t, 1, h.Len())

	stored, err := database.NewJSON(path).Load()
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
