// Package notify surfaces the user-facing milestones of a protection run.
// The default implementation writes them to the log; a platform build can
// swap in real desktop notifications.
package notify

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Service receives milestone notifications. Each fires at most once per
// process lifetime.
type Service interface {
	FirstScanComplete()
	FirstProfileRemoved()
	AllProfilesRemoved()
}

// LogService logs milestones through logrus.
type LogService struct {
	Log *logrus.Logger

	firstScan    sync.Once
	firstRemoved sync.Once
	allRemoved   sync.Once
}

func (s *LogService) FirstScanComplete() {
	s.firstScan.Do(func() {
		s.Log.Info("first scan of all brokers completed")
	})
}

func (s *LogService) FirstProfileRemoved() {
	s.firstRemoved.Do(func() {
		s.Log.Info("first record removal confirmed")
	})
}

func (s *LogService) AllProfilesRemoved() {
	s.allRemoved.Do(func() {
		s.Log.Info("every known record has been removed")
	})
}

// Nop discards all milestones.
type Nop struct{}

func (Nop) FirstScanComplete()   {}
func (Nop) FirstProfileRemoved() {}
func (Nop) AllProfilesRemoved()  {}
