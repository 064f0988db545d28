package sink

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/matchguard/internal/config"
	"github.com/sells-group/matchguard/internal/store"
)

// New builds the sink selected by cfg.Kind: "memory", "jsonl", "store", or
// "both" (store plus JSONL files). st may be nil unless a store sink is
// requested.
func New(cfg config.SinkConfig, st store.Store) (Sink, error) {
	switch cfg.Kind {
	case "memory":
		return NewMemory(), nil
	case "jsonl":
		return NewJSONL(cfg.Dir)
	case "", "store":
		if st == nil {
			return nil, eris.New("sink: store sink requires a store")
		}
		return NewStore(st), nil
	case "both":
		if st == nil {
			return nil, eris.New("sink: store sink requires a store")
		}
		j, err := NewJSONL(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return Multi{NewStore(st), j}, nil
	default:
		return nil, eris.Errorf("sink: unknown kind %q", cfg.Kind)
	}
}
