package clip

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/internal/motion"
	"vigil/internal/video"
)

func frame(seq uint64) video.Frame {
	return video.Frame{
		Source:    "cam",
		Seq:       seq,
		Timestamp: time.Unix(1700000000, 0).Add(time.Duration(seq) * time.Second),
		Data:      []byte(fmt.Sprintf("frame-%d", seq)),
	}
}

func TestBufferNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	// 5 seconds at 30 fps.
	b := NewBuffer(150)
	for i := 0; i < 600; i++ {
		b.Append(frame(uint64(i)))
		assert.LessOrEqual(t, b.Len(), 150)
	}
	assert.Equal(t, 150, b.Len())

	snap := b.Snapshot()
	require.Len(t, snap, 150)
	// Oldest surviving frame is 600-150.
	assert.Equal(t, uint64(450), snap[0].Seq)
	assert.Equal(t, uint64(599), snap[149].Seq)
}

func TestBufferSnapshotIsIndependent(t *testing.T) {
	t.Parallel()

	b := NewBuffer(4)
	for i := 0; i < 4; i++ {
		b.Append(frame(uint64(i)))
	}
	snap := b.Snapshot()

	// The ring keeps rolling; the snapshot does not change underneath.
	for i := 4; i < 12; i++ {
		b.Append(frame(uint64(i)))
	}
	assert.Equal(t, uint64(0), snap[0].Seq)
	assert.Equal(t, uint64(3), snap[3].Seq)
}

func TestBufferTail(t *testing.T) {
	t.Parallel()

	b := NewBuffer(8)
	for i := 0; i < 6; i++ {
		b.Append(frame(uint64(i)))
	}

	tail := b.Tail(3)
	require.Len(t, tail, 3)
	assert.Equal(t, uint64(3), tail[0].Seq)
	assert.Equal(t, uint64(5), tail[2].Seq)

	// Asking for more than buffered returns everything.
	assert.Len(t, b.Tail(100), 6)
}

// fakeEncoder records the frames each Encode call receives.
type fakeEncoder struct {
	mu    sync.Mutex
	calls [][]video.Frame
	err   error
	block chan struct{}
}

func (f *fakeEncoder) Encode(frames []video.Frame, path string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, frames)
	f.mu.Unlock()
	return f.err
}

func (f *fakeEncoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestRecorder(t *testing.T, clipFrames int, enc Encoder) *Recorder {
	t.Helper()
	return NewRecorder(Config{
		ClipFrames: clipFrames,
		VideoDir:   t.TempDir(),
		ImageDir:   t.TempDir(),
	}, enc, zap.NewNop().Sugar())
}

func testAlert() *motion.Alert {
	return &motion.Alert{
		ID:        "a1",
		Source:    "cam",
		Timestamp: time.Unix(1700000000, 0),
		Level:     750,
	}
}

// A triggered clip contains exactly ClipFrames frames: the buffered
// pre-detection half plus post-detection frames, in order.
func TestRecorderClipSpansDetection(t *testing.T) {
	t.Parallel()

	enc := &fakeEncoder{}
	r := newTestRecorder(t, 10, enc)

	for i := 0; i < 20; i++ {
		r.Record(frame(uint64(i)))
	}
	require.True(t, r.Trigger(testAlert()))

	// 5 pre-detection frames are already captured; 5 more complete the clip.
	for i := 20; i < 25; i++ {
		r.Record(frame(uint64(i)))
	}

	select {
	case res := <-r.Results():
		require.NoError(t, res.Err)
		assert.Contains(t, res.Path, "clip_cam_")
	case <-time.After(time.Second):
		t.Fatal("clip never finalized")
	}

	require.Equal(t, 1, enc.callCount())
	got := enc.calls[0]
	require.Len(t, got, 10)
	assert.Equal(t, uint64(15), got[0].Seq)
	assert.Equal(t, uint64(24), got[9].Seq)
}

// A near-empty buffer still produces a full-length clip, padded with more
// post-detection frames.
func TestRecorderShortBufferFillsForward(t *testing.T) {
	t.Parallel()

	enc := &fakeEncoder{}
	r := newTestRecorder(t, 10, enc)

	r.Record(frame(0))
	require.True(t, r.Trigger(testAlert()))
	for i := 1; i < 10; i++ {
		r.Record(frame(uint64(i)))
	}

	select {
	case res := <-r.Results():
		require.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("clip never finalized")
	}
	require.Len(t, enc.calls[0], 10)
	assert.Equal(t, uint64(0), enc.calls[0][0].Seq)
}

// A confirmation during an in-flight clip is dropped.
func TestRecorderDropsConcurrentTrigger(t *testing.T) {
	t.Parallel()

	enc := &fakeEncoder{block: make(chan struct{})}
	r := newTestRecorder(t, 4, enc)

	for i := 0; i < 4; i++ {
		r.Record(frame(uint64(i)))
	}
	require.True(t, r.Trigger(testAlert()))
	assert.True(t, r.Recording())

	// Still assembling: the second alert gets no clip.
	assert.False(t, r.Trigger(testAlert()))

	for i := 4; i < 8; i++ {
		r.Record(frame(uint64(i)))
	}
	// Encoding now; still busy.
	assert.False(t, r.Trigger(testAlert()))

	close(enc.block)
	select {
	case <-r.Results():
	case <-time.After(time.Second):
		t.Fatal("clip never finalized")
	}
	assert.False(t, r.Recording())
	assert.True(t, r.Trigger(testAlert()))
}

func TestRecorderReportsEncodeFailure(t *testing.T) {
	t.Parallel()

	enc := &fakeEncoder{err: errors.New("muxer exploded")}
	r := newTestRecorder(t, 2, enc)

	require.True(t, r.Trigger(testAlert()))
	r.Record(frame(0))
	r.Record(frame(1))

	select {
	case res := <-r.Results():
		require.Error(t, res.Err)
		assert.Empty(t, res.Path)
		assert.Equal(t, "a1", res.Alert.ID)
	case <-time.After(time.Second):
		t.Fatal("result never delivered")
	}
}

func TestSaveSnapshot(t *testing.T) {
	t.Parallel()

	r := newTestRecorder(t, 2, &fakeEncoder{})
	f := frame(7)
	f.Source = "rtsp://cam.local:554/stream"

	path, err := r.SaveSnapshot(f)
	require.NoError(t, err)
	assert.Contains(t, path, "alert_rtsp-cam.local-554-stream_")
	assert.FileExists(t, path)
}

func TestSanitizeSource(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "rtsp-user-cam.local-554-live", sanitizeSource("rtsp://user@cam.local:554/live"))
	assert.Equal(t, "dev-video0", sanitizeSource("/dev/video0"))
	assert.Equal(t, "cam_1", sanitizeSource("cam_1"))
}
