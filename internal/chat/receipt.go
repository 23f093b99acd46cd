package chat

import "github.com/omochice/toy-private-chat/pkg/protocol"

// ReceiptCorrelator matches read receipts to locally sent messages and makes
// sure each received message is acknowledged once. Delivery state changes are
// written through to the MessageStore it was built with.
type ReceiptCorrelator struct {
	store        *MessageStore
	outstanding  map[string]Identity
	byPeer       map[Identity][]string
	acknowledged map[string]struct{}
}

// NewReceiptCorrelator creates a correlator whose owner is store.Owner().
func NewReceiptCorrelator(store *MessageStore) *ReceiptCorrelator {
	return &ReceiptCorrelator{
		store:        store,
		outstanding:  make(map[string]Identity),
		byPeer:       make(map[Identity][]string),
		acknowledged: make(map[string]struct{}),
	}
}

// Track starts waiting for a receipt for an outbound message.
func (r *ReceiptCorrelator) Track(msg Message) {
	if msg.ID == "" {
		return
	}
	if _, ok := r.outstanding[msg.ID]; ok {
		return
	}
	r.outstanding[msg.ID] = msg.Recipient
	r.byPeer[msg.Recipient] = append(r.byPeer[msg.Recipient], msg.ID)
}

// MarkSent records that the transport wrote the message with id.
func (r *ReceiptCorrelator) MarkSent(id string) bool {
	if _, ok := r.outstanding[id]; !ok {
		return false
	}
	return r.store.UpdateDeliveryState(id, Sent)
}

// OnReceiptReceived handles a receipt sent by reader. With an id only that
// message can match, and only if it was sent to reader. Relays that omit the
// id get the oldest outstanding message to reader. It returns the id marked
// Read.
func (r *ReceiptCorrelator) OnReceiptReceived(reader Identity, id string) (string, bool) {
	if id == "" {
		queue := r.byPeer[reader]
		if len(queue) == 0 {
			return "", false
		}
		id = queue[0]
	}
	recipient, ok := r.outstanding[id]
	if !ok || recipient != reader {
		return "", false
	}
	r.forget(id, recipient)
	r.store.UpdateDeliveryState(id, Read)
	return id, true
}

// Outstanding returns the number of sent messages still awaiting a receipt.
func (r *ReceiptCorrelator) Outstanding() int {
	return len(r.outstanding)
}

// Acknowledge returns the read receipt to send for an inbound message. It
// returns false for messages sent by the owner and for ids already acknowledged.
func (r *ReceiptCorrelator) Acknowledge(msg Message) (protocol.ReadReceipt, bool) {
	owner := r.store.Owner()
	if msg.Sender == owner {
		return protocol.ReadReceipt{}, false
	}
	if msg.ID != "" {
		if _, ok := r.acknowledged[msg.ID]; ok {
			return protocol.ReadReceipt{}, false
		}
		r.acknowledged[msg.ID] = struct{}{}
	}
	return protocol.ReadReceipt{
		User:   string(owner),
		Sender: string(msg.Sender),
		ID:     msg.ID,
	}, true
}

func (r *ReceiptCorrelator) forget(id string, peer Identity) {
	delete(r.outstanding, id)
	queue := r.byPeer[peer]
	for i, queued := range queue {
		if queued == id {
			r.byPeer[peer] = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	if len(r.byPeer[peer]) == 0 {
		delete(r.byPeer, peer)
	}
}
