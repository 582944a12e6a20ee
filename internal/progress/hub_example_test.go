package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit counts stored records as they are reported.
func ExampleHub_Emit() {
	stored := map[string]int{}
	hub := NewHub(Config{MaxBatchEvents: 1, MaxBatchWait: time.Second}, sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Kind == KindStored {
				stored[evt.Entity]++
			}
		}
		return nil
	}))

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	for _, entity := range []string{"language", "edition", "edition_format", "edition_format"} {
		hub.Emit(Event{RunID: runID, TS: time.Unix(0, 0), Kind: KindStored, Entity: entity})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Println(stored["language"], stored["edition"], stored["edition_format"])
	// Output:
	// 1 1 2
}
