package memory

import "github.com/vladislavdragonenkov/storefront/internal/domain"

// entityKey адресует запись парой (раздел, id). В Postgres разделу соответствует отдельная таблица.
type entityKey struct {
	partition domain.Partition
	id        string
}

func productKey(id string) entityKey { return entityKey{partition: domain.PartitionProduct, id: id} }
func orderKey(id string) entityKey   { return entityKey{partition: domain.PartitionOrder, id: id} }
