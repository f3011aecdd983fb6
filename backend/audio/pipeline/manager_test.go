package pipeline_test

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/supersonic-app/audiophile/backend/audio/pipeline"
	"github.com/supersonic-app/audiophile/internal/audiotest"
)

func TestStationPipelinesAreKeyStable(t *testing.T) {
	m := pipeline.NewManager(audiotest.NewHost(44100))

	a1, err := m.StationPipeline("radio-los-santos")
	if err != nil {
		t.Fatal(err)
	}
	a2, _ := m.StationPipeline("radio-los-santos")
	b, _ := m.StationPipeline("non-stop-pop")
	shared, _ := m.SharedPipeline()

	if a1 != a2 {
		t.Error("same station returned different pipelines")
	}
	if a1 == b {
		t.Error("different stations share a pipeline")
	}
	if a1 == shared || b == shared {
		t.Error("station pipeline is the shared pipeline")
	}
	if a1.Key() != "station-radio-los-santos" {
		t.Errorf("Key() = %q", a1.Key())
	}
	if m.Count() != 3 {
		t.Errorf("Count() = %d, want 3", m.Count())
	}
}

func TestTrackKeysUseSharedPipeline(t *testing.T) {
	m := pipeline.NewManager(audiotest.NewHost(44100))
	shared, _ := m.SharedPipeline()

	for _, key := range []string{pipeline.TrackKey("42"), "shared", "something-else"} {
		p, err := m.Pipeline(key, true)
		if err != nil {
			t.Fatal(err)
		}
		if p != shared {
			t.Errorf("Pipeline(%q) is not the shared pipeline", key)
		}
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestStationLookupWithoutCreate(t *testing.T) {
	m := pipeline.NewManager(audiotest.NewHost(44100))

	p, err := m.Pipeline(pipeline.StationKey("x"), false)
	if err != nil {
		t.Fatal(err)
	}
	if p.Key() != pipeline.SharedKey {
		t.Errorf("missing station without create returned %q, want shared", p.Key())
	}

	created, _ := m.StationPipeline("x")
	found, _ := m.Pipeline(pipeline.StationKey("x"), false)
	if created != found {
		t.Error("existing station pipeline not returned")
	}
}

func TestPerStationPipelinesDisabled(t *testing.T) {
	m := pipeline.NewManager(audiotest.NewHost(44100))
	if !m.PerStationPipelines() {
		t.Fatal("per-station pipelines disabled by default")
	}
	m.SetPerStationPipelines(false)

	p, _ := m.StationPipeline("x")
	shared, _ := m.SharedPipeline()
	if p != shared {
		t.Error("station pipeline is not shared while per-station pipelines are off")
	}
}

func TestConcurrentGetCreatesOnce(t *testing.T) {
	host := audiotest.NewHost(44100)
	m := pipeline.NewManager(host)

	var wg sync.WaitGroup
	results := make([]*pipeline.Pipeline, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = m.StationPipeline("busy")
		}()
	}
	wg.Wait()

	for _, p := range results {
		if p != results[0] {
			t.Fatal("concurrent lookups returned different pipelines")
		}
	}
	if n := len(host.Outputs()); n != 1 {
		t.Errorf("created %d outputs, want 1", n)
	}
}

func TestConstructionErrorSurfaced(t *testing.T) {
	host := audiotest.NewHost(44100)
	host.OutputErr = errors.New("no device")
	m := pipeline.NewManager(host)

	if _, err := m.SharedPipeline(); err == nil {
		t.Error("expected error")
	}
	if m.Count() != 0 {
		t.Errorf("failed pipeline was stored")
	}
}

func TestCleanupOperations(t *testing.T) {
	m := pipeline.NewManager(audiotest.NewHost(44100))
	shared, _ := m.SharedPipeline()
	a, _ := m.StationPipeline("a")
	b, _ := m.StationPipeline("b")
	m.SetActiveContext(pipeline.StationKey("a"))

	want := []string{"shared", "station-a", "station-b"}
	if got := m.Contexts(); !slices.Equal(got, want) {
		t.Errorf("Contexts() = %v, want %v", got, want)
	}

	if err := m.CleanupPipeline(pipeline.StationKey("a")); err != nil {
		t.Fatal(err)
	}
	if err := m.CleanupPipeline(pipeline.StationKey("a")); err != nil {
		t.Errorf("cleaning up a missing key = %v", err)
	}
	if !a.Disposed() || m.Count() != 2 {
		t.Errorf("after CleanupPipeline disposed = %v count = %d", a.Disposed(), m.Count())
	}

	if err := m.CleanupAllExceptShared(); err != nil {
		t.Fatal(err)
	}
	if !b.Disposed() || shared.Disposed() || m.Count() != 1 {
		t.Errorf("after CleanupAllExceptShared: b disposed = %v shared disposed = %v count = %d",
			b.Disposed(), shared.Disposed(), m.Count())
	}

	a2, _ := m.StationPipeline("a")
	if a2 == a {
		t.Error("disposed pipeline handed out again")
	}

	if err := m.CleanupAll(); err != nil {
		t.Fatal(err)
	}
	if !shared.Disposed() || !a2.Disposed() || m.Count() != 0 {
		t.Error("CleanupAll left pipelines alive")
	}
	if m.ActiveContext() != "" {
		t.Errorf("ActiveContext() = %q after CleanupAll", m.ActiveContext())
	}
}

func TestDispose(t *testing.T) {
	m := pipeline.NewManager(audiotest.NewHost(44100))
	shared, _ := m.SharedPipeline()

	if err := m.Dispose(); err != nil {
		t.Fatal(err)
	}
	if !shared.Disposed() {
		t.Error("shared pipeline not disposed")
	}
	if _, err := m.SharedPipeline(); !errors.Is(err, pipeline.ErrManagerClosed) {
		t.Errorf("SharedPipeline after Dispose = %v, want ErrManagerClosed", err)
	}
}
