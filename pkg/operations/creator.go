package operations

import (
	"time"

	"github.com/unlist-sh/unlist/pkg/jobdata"
)

// Creator builds the operation list for one batch.
type Creator interface {
	OperationsFor(records []jobdata.BrokerProfileQueryData, kind Kind, cutoff *time.Time) ([]*Operation, error)
}

// DefaultCreator emits exactly one operation per distinct broker, in
// first-seen record order.
type DefaultCreator struct{}

func (DefaultCreator) OperationsFor(records []jobdata.BrokerProfileQueryData, kind Kind, cutoff *time.Time) ([]*Operation, error) {
	seen := make(map[int64]bool)
	var out []*Operation
	for _, record := range records {
		if seen[record.Broker.ID] {
			continue
		}
		seen[record.Broker.ID] = true
		out = append(out, &Operation{
			BrokerID:   record.Broker.ID,
			BrokerName: record.Broker.Name,
			Kind:       kind,
			Cutoff:     cutoff,
		})
	}
	return out, nil
}
