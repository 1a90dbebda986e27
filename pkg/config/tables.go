package config

const (
	SinkMemory   = "memory"
	SinkPostgres = "postgres"
)

// TablesConfig selects where uploaded table rows are stored. Left empty, the
// sink follows the job store: postgres when jobs live in postgres, memory
// otherwise.
type TablesConfig struct {
	Sink string `mapstructure:"sink"`
}

func (t *TablesConfig) normalize(store string) {
	if t.Sink == "" && store == StorePostgres {
		t.Sink = SinkPostgres
	}
	if t.Sink == "" {
		t.Sink = SinkMemory
	}
}

func (t TablesConfig) validate(invalid func(key, format string, args ...any) error) error {
	switch t.Sink {
	case SinkMemory, SinkPostgres:
		return nil
	}
	return invalid("tables.sink", "unknown table sink %q (use 'memory' or 'postgres')", t.Sink)
}
