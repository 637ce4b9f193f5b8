package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alwitt/suburb/common"
)

// ErrNotFound the addressed entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict the entity already exists
var ErrConflict = errors.New("already exists")

// namespaceState the resources held by one namespace
type namespaceState struct {
	queues map[string][]string
	flags  map[string]bool
	logs   []common.LogEntry
}

// MemoryStore in-memory namespaces, queues, flags, and logs
type MemoryStore struct {
	lock       sync.Mutex
	namespaces map[string]*namespaceState
	clock      func() time.Time
}

// NewMemoryStore define an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		namespaces: make(map[string]*namespaceState),
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) namespace(name string) (*namespaceState, error) {
	ns, ok := s.namespaces[name]
	if !ok {
		return nil, fmt.Errorf("namespace '%s' %w", name, ErrNotFound)
	}
	return ns, nil
}

func (s *MemoryStore) queue(namespace, queue string) (*namespaceState, []string, error) {
	ns, err := s.namespace(namespace)
	if err != nil {
		return nil, nil, err
	}
	messages, ok := ns.queues[queue]
	if !ok {
		return nil, nil, fmt.Errorf("queue '%s/%s' %w", namespace, queue, ErrNotFound)
	}
	return ns, messages, nil
}

// ==============================================================================
// Namespaces

// ListNamespaces list namespaces sorted by name
func (s *MemoryStore) ListNamespaces() []common.Namespace {
	s.lock.Lock()
	defer s.lock.Unlock()
	result := make([]common.Namespace, 0, len(s.namespaces))
	for name := range s.namespaces {
		result = append(result, common.Namespace{Name: name})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// CreateNamespace create a namespace
func (s *MemoryStore) CreateNamespace(name string) (common.Namespace, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.namespaces[name]; ok {
		return common.Namespace{}, fmt.Errorf("namespace '%s' %w", name, ErrConflict)
	}
	s.namespaces[name] = &namespaceState{
		queues: make(map[string][]string), flags: make(map[string]bool),
	}
	return common.Namespace{Name: name}, nil
}

// DeleteNamespace delete a namespace and everything in it
func (s *MemoryStore) DeleteNamespace(name string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, err := s.namespace(name); err != nil {
		return err
	}
	delete(s.namespaces, name)
	return nil
}

// ==============================================================================
// Queues

// ListQueues list the queues of a namespace sorted by name
func (s *MemoryStore) ListQueues(namespace string) ([]common.Queue, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	ns, err := s.namespace(namespace)
	if err != nil {
		return nil, err
	}
	result := make([]common.Queue, 0, len(ns.queues))
	for name := range ns.queues {
		result = append(result, common.Queue{Name: name})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// CreateQueue create an empty queue
func (s *MemoryStore) CreateQueue(namespace, queue string) (common.Queue, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	ns, err := s.namespace(namespace)
	if err != nil {
		return common.Queue{}, err
	}
	if _, ok := ns.queues[queue]; ok {
		return common.Queue{}, fmt.Errorf("queue '%s/%s' %w", namespace, queue, ErrConflict)
	}
	ns.queues[queue] = []string{}
	return common.Queue{Name: queue}, nil
}

// DeleteQueue delete a queue and its messages
func (s *MemoryStore) DeleteQueue(namespace, queue string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	ns, _, err := s.queue(namespace, queue)
	if err != nil {
		return err
	}
	delete(ns.queues, queue)
	return nil
}

// Push append a message to a queue
func (s *MemoryStore) Push(namespace, queue, message string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	ns, messages, err := s.queue(namespace, queue)
	if err != nil {
		return err
	}
	ns.queues[queue] = append(messages, message)
	return nil
}

// Peek the head message of a queue. Nil if the queue is empty.
func (s *MemoryStore) Peek(namespace, queue string) (*string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, messages, err := s.queue(namespace, queue)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	head := messages[0]
	return &head, nil
}

// Pop remove the head message of a queue. Nil if the queue is empty.
func (s *MemoryStore) Pop(namespace, queue string) (*string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	ns, messages, err := s.queue(namespace, queue)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	head := messages[0]
	ns.queues[queue] = messages[1:]
	return &head, nil
}

// Length the number of messages in a queue
func (s *MemoryStore) Length(namespace, queue string) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, messages, err := s.queue(namespace, queue)
	if err != nil {
		return 0, err
	}
	return len(messages), nil
}

// ==============================================================================
// Feature flags

// ListFlags list the flags of a namespace sorted by name
func (s *MemoryStore) ListFlags(namespace string) ([]common.FeatureFlag, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	ns, err := s.namespace(namespace)
	if err != nil {
		return nil, err
	}
	result := make([]common.FeatureFlag, 0, len(ns.flags))
	for name, value := range ns.flags {
		result = append(result, common.FeatureFlag{Name: name, Value: value})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// GetFlag read a flag. Nil if the flag was never set.
func (s *MemoryStore) GetFlag(namespace, flag string) (*bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	ns, err := s.namespace(namespace)
	if err != nil {
		return nil, err
	}
	value, ok := ns.flags[flag]
	if !ok {
		return nil, nil
	}
	return &value, nil
}

// SetFlag set a flag
func (s *MemoryStore) SetFlag(namespace, flag string, value bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	ns, err := s.namespace(namespace)
	if err != nil {
		return err
	}
	ns.flags[flag] = value
	return nil
}

// DeleteFlag delete a flag
func (s *MemoryStore) DeleteFlag(namespace, flag string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	ns, err := s.namespace(namespace)
	if err != nil {
		return err
	}
	if _, ok := ns.flags[flag]; !ok {
		return fmt.Errorf("flag '%s/%s' %w", namespace, flag, ErrNotFound)
	}
	delete(ns.flags, flag)
	return nil
}

// ==============================================================================
// Logs

// ListLogs list the log entries of a namespace in insertion order
func (s *MemoryStore) ListLogs(namespace string) ([]common.LogEntry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	ns, err := s.namespace(namespace)
	if err != nil {
		return nil, err
	}
	return append([]common.LogEntry{}, ns.logs...), nil
}

// AddLog append a log entry, timestamped now
func (s *MemoryStore) AddLog(namespace, source, level, message string) (common.LogEntry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	ns, err := s.namespace(namespace)
	if err != nil {
		return common.LogEntry{}, err
	}
	entry := common.LogEntry{
		Source: source, Level: level, Message: message, CreatedAt: s.clock(),
	}
	ns.logs = append(ns.logs, entry)
	return entry, nil
}
