package backend

import (
	"sync"

	"github.com/alwitt/suburb/common"
	"github.com/apex/log"
)

// listener one streaming connection registered on a channel
type listener struct {
	id      string
	send    chan []byte
	dropped chan struct{}
	once    sync.Once
}

// drop request the listener's connection be closed
func (l *listener) drop() {
	l.once.Do(func() { close(l.dropped) })
}

// channelBroker fans published messages out to the listeners of each channel
type channelBroker struct {
	common.Component
	lock      sync.Mutex
	listeners map[string]map[string]*listener
	buffer    int
}

func newChannelBroker(buffer int) *channelBroker {
	return &channelBroker{
		Component: common.Component{
			LogTags: log.Fields{"module": "backend", "component": "channel-broker"},
		},
		listeners: make(map[string]map[string]*listener),
		buffer:    buffer,
	}
}

// register add a listener to a channel
func (b *channelBroker) register(channel string, id string) *listener {
	b.lock.Lock()
	defer b.lock.Unlock()
	l := &listener{id: id, send: make(chan []byte, b.buffer), dropped: make(chan struct{})}
	if _, ok := b.listeners[channel]; !ok {
		b.listeners[channel] = make(map[string]*listener)
	}
	b.listeners[channel][id] = l
	log.WithFields(b.LogTags).Debugf("Listener %s joined '%s'", id, channel)
	return l
}

// unregister remove a listener from a channel
func (b *channelBroker) unregister(channel string, id string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if members, ok := b.listeners[channel]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(b.listeners, channel)
		}
	}
	log.WithFields(b.LogTags).Debugf("Listener %s left '%s'", id, channel)
}

// publish deliver a message to every listener of the channel. A listener whose buffer
// is full misses the message. Returns the number of listeners reached.
func (b *channelBroker) publish(channel string, message []byte) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	delivered := 0
	for id, l := range b.listeners[channel] {
		select {
		case l.send <- message:
			delivered++
		default:
			log.WithFields(b.LogTags).Warnf("Listener %s on '%s' is full, message dropped", id, channel)
		}
	}
	return delivered
}

// listenerCount the number of listeners on a channel
func (b *channelBroker) listenerCount(channel string) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.listeners[channel])
}

// dropAll close every listener of a channel
func (b *channelBroker) dropAll(channel string) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, l := range b.listeners[channel] {
		l.drop()
	}
	return len(b.listeners[channel])
}
