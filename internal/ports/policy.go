package ports

import "time"

// Policy bounds the persistence dispatcher.
type Policy struct {
	MaxQueueLen   int           `yaml:"max_queue_len"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
	IdleSleep     time.Duration `yaml:"idle_sleep"`
	AppendTimeout time.Duration `yaml:"append_timeout"`
}
