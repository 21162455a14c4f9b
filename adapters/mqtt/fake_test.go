package mqtt

import "sync"

type publishedMsg struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeBroker records publishes and lets tests deliver messages.
type fakeBroker struct {
	mu         sync.Mutex
	published  []publishedMsg
	handlers   map[string]MessageHandler
	publishErr error
	closed     bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]MessageHandler)}
}

func (f *fakeBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMsg{topic, qos, retained, payload})
	return nil
}

func (f *fakeBroker) Subscribe(topic string, qos byte, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBroker) Close() error {
	f.closed = true
	return nil
}

func (f *fakeBroker) deliver(pattern, topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[pattern]
	f.mu.Unlock()
	h(topic, payload)
}
