package forum

import "errors"

// Error kinds shared across the harvester. Callers wrap them with fmt.Errorf and
// classify with errors.Is.
var (
	ErrNavigationTimeout         = errors.New("navigation timeout")
	ErrExtraction                = errors.New("extraction failure")
	ErrAssetResolution           = errors.New("asset resolution failure")
	ErrStorageWrite              = errors.New("storage write failure")
	ErrPersistence               = errors.New("persistence failure")
	ErrMemoryExhaustion          = errors.New("memory exhaustion")
	ErrPartitionMisconfiguration = errors.New("partition misconfiguration")
	ErrSessionUnavailable        = errors.New("session not authenticated")
)
