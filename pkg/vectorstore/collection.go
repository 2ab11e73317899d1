package vectorstore

// collectionState is one run's one collection: its immutable config, its
// backend (owning the embedding heap), and the per-user-key metadata
// records the facade calls "a KV record per user key".
type collectionState struct {
	config  CollectionConfig
	backend VectorIndexBackend
	keys    map[string]VectorRecord
}

func newCollectionState(cfg CollectionConfig) *collectionState {
	return &collectionState{
		config:  cfg,
		backend: newBackend(cfg.Dimension, cfg.Metric),
		keys:    make(map[string]VectorRecord),
	}
}
