package saga

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"
)

// failingCache 模拟不可用的缓存层。
type failingCache struct{}

func (failingCache) Put(context.Context, *TaskState) error       { return stdErrors.New("cache down") }
func (failingCache) Get(context.Context, string) (*TaskState, error) {
	return nil, stdErrors.New("cache down")
}
func (failingCache) Delete(context.Context, string) error { return stdErrors.New("cache down") }
func (failingCache) Close() error                         { return nil }

func TestGatewayCheckpointAndCacheFirstLoad(t *testing.T) {
	primary := NewMemoryStore()
	cache := NewMemoryCache()
	gw := NewGateway(primary, cache)
	ctx := context.Background()

	state := NewTaskState("task-gw", JobRequest{JobID: "job-gw"})
	if err := gw.Checkpoint(ctx, state); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if state.UpdatedAt.IsZero() {
		t.Fatal("checkpoint must refresh updated_at")
	}

	// 缓存命中时不应回源：污染主存储后读到的仍是缓存里的版本。
	tampered := state.Clone()
	tampered.CurrentPhase = PhaseFailed
	if err := primary.Save(ctx, tampered); err != nil {
		t.Fatalf("save tampered: %v", err)
	}

	loaded, err := gw.Load(ctx, "task-gw")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.CurrentPhase != InitialPhase {
		t.Fatalf("expected cache hit with %s, got %s", InitialPhase, loaded.CurrentPhase)
	}
}

func TestGatewayLoadFallsBackAndRepopulates(t *testing.T) {
	primary := NewMemoryStore()
	cache := NewMemoryCache()
	gw := NewGateway(primary, cache)
	ctx := context.Background()

	state := NewTaskState("task-gw", JobRequest{JobID: "job-gw"})
	if err := primary.Save(ctx, state); err != nil {
		t.Fatalf("seed primary: %v", err)
	}

	loaded, err := gw.Load(ctx, "task-gw")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.TaskID != "task-gw" {
		t.Fatalf("unexpected state: %+v", loaded)
	}

	// 回源成功后必须回填缓存。
	if _, err := cache.Get(ctx, "task-gw"); err != nil {
		t.Fatalf("cache was not repopulated: %v", err)
	}
}

// 缓存故障不能影响检查点与读取，主存储永远是事实来源。
func TestGatewaySurvivesCacheFailure(t *testing.T) {
	primary := NewMemoryStore()
	gw := NewGateway(primary, failingCache{})
	ctx := context.Background()

	state := NewTaskState("task-gw", JobRequest{JobID: "job-gw"})
	if err := gw.Checkpoint(ctx, state); err != nil {
		t.Fatalf("checkpoint with broken cache: %v", err)
	}

	loaded, err := gw.Load(ctx, "task-gw")
	if err != nil {
		t.Fatalf("load with broken cache: %v", err)
	}
	if loaded.TaskID != "task-gw" {
		t.Fatalf("unexpected state: %+v", loaded)
	}

	gw.Evict(ctx, "task-gw")
}

func TestMemoryStoreListRecentOrdersByUpdateTime(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, id := range []string{"task-old", "task-mid", "task-new"} {
		state := NewTaskState(id, JobRequest{JobID: "job-gw"})
		state.UpdatedAt = state.UpdatedAt.Add(time.Duration(i) * time.Minute)
		if i == 0 {
			state.CurrentPhase = PhaseCompleted
		}
		if err := store.Save(ctx, state); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	recent, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 || recent[0].TaskID != "task-new" || recent[1].TaskID != "task-mid" {
		t.Fatalf("unexpected order: %+v", recent)
	}

	// 不同于恢复扫描，最近列表包含终态任务。
	all, err := store.ListRecent(ctx, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[2].TaskID != "task-old" {
		t.Fatalf("terminal task missing from recent list: %+v", all)
	}
}

func TestGatewayLoadMissingTask(t *testing.T) {
	gw := NewGateway(NewMemoryStore(), nil)
	if _, err := gw.Load(context.Background(), "absent"); !stdErrors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
