package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/internal/motion"
)

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	atts  []*Attachment
	err   error
}

func (f *fakeNotifier) Send(ctx context.Context, text string, att *Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.atts = append(f.atts, att)
	return f.err
}

func testAlert() *motion.Alert {
	return &motion.Alert{
		ID:        "a1",
		Source:    "front-door",
		Timestamp: time.Date(2024, 3, 10, 18, 4, 5, 0, time.UTC),
		Level:     812.4,
	}
}

func TestDispatchAlertSendsSnapshot(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{}
	d := NewDispatcher([]Notifier{n}, time.Second, zap.NewNop().Sugar())

	d.DispatchAlert(context.Background(), testAlert(), []byte("jpeg"))

	require.Len(t, n.texts, 1)
	assert.Equal(t, "Movement detected on front-door at 10 Mar 2024 18:04:05 (level 812)", n.texts[0])
	require.NotNil(t, n.atts[0])
	assert.Equal(t, AttachmentPhoto, n.atts[0].Kind)
	assert.Equal(t, []byte("jpeg"), n.atts[0].Data)
}

func TestDispatchAlertWithoutSnapshot(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{}
	d := NewDispatcher([]Notifier{n}, time.Second, zap.NewNop().Sugar())

	d.DispatchAlert(context.Background(), testAlert(), nil)
	require.Len(t, n.atts, 1)
	assert.Nil(t, n.atts[0])
}

func TestDispatchClip(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{}
	d := NewDispatcher([]Notifier{n}, time.Second, zap.NewNop().Sugar())

	d.DispatchClip(context.Background(), testAlert(), "/videos/clip.mp4")
	require.Len(t, n.atts, 1)
	assert.Equal(t, AttachmentClip, n.atts[0].Kind)
	assert.Equal(t, "/videos/clip.mp4", n.atts[0].Path)
}

// One broken notifier does not stop delivery to the others, and each failure
// fires the hook.
func TestDispatchContinuesPastFailures(t *testing.T) {
	t.Parallel()

	broken := &fakeNotifier{err: errors.New("telegram down")}
	healthy := &fakeNotifier{}
	d := NewDispatcher([]Notifier{broken, healthy}, time.Second, zap.NewNop().Sugar())

	failures := 0
	d.OnFailure(func() { failures++ })

	d.DispatchAlert(context.Background(), testAlert(), nil)

	assert.Len(t, broken.texts, 1)
	assert.Len(t, healthy.texts, 1)
	assert.Equal(t, 1, failures)
}

func TestSoundPlayerDisabled(t *testing.T) {
	t.Parallel()

	p := NewSoundPlayer("", zap.NewNop().Sugar())
	assert.False(t, p.Enabled())
	assert.Error(t, p.Send(context.Background(), "ignored", nil))
}
