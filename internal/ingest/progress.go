package ingest

// Stage names one phase of an ingestion run.
type Stage string

const (
	StageFetching  Stage = "fetching"
	StageSelecting Stage = "selecting"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageUpserting Stage = "upserting"
	StageDone      Stage = "done"
)

// Event is one progress update. Counters are monotonic within a stage;
// delivery is fire-and-forget and at-least-once is acceptable.
type Event struct {
	Stage     Stage
	Processed int
	Total     int
	Message   string
}

// ProgressFunc receives progress events. May be nil.
type ProgressFunc func(Event)

func (f ProgressFunc) emit(e Event) {
	if f != nil {
		f(e)
	}
}
