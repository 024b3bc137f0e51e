package notifiers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"task-tracker/internal/task-tracker/events"
)

const NotifierTypeLog = "log"

// Notifier tells someone that a recurring task was generated for them.
type Notifier interface {
	Notify(ctx context.Context, payload events.TaskGeneratedPayload) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Notifier)
)

func init() {
	RegisterNotifier(NotifierTypeLog, &LogNotifier{})
}

func RegisterNotifier(notifierType string, notifier Notifier) {
	registryMu.Lock()
	defer registryMu.Unlock()
	hlog.Debugf("Registering notifier for type: %s", notifierType)
	registry[notifierType] = notifier
}

func GetNotifier(notifierType string) (Notifier, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	notifier, exists := registry[notifierType]
	if !exists {
		return nil, fmt.Errorf("no notifier registered for type: %s", notifierType)
	}
	return notifier, nil
}

// Registered lists the known notifier types, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
