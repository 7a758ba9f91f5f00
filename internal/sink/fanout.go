package sink

import (
	"errors"

	"github.com/sawpanic/wsclient/internal/ws"
)

// Fanout writes every report to each sink in order
type Fanout []ws.ReportSink

// WriteReport continues past failing sinks and joins their errors
func (f Fanout) WriteReport(r *ws.ErrorReport) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.WriteReport(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
