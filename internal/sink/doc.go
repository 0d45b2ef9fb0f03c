// Package sink routes transcript events to their consumers: the durable
// per-session journal, bot-registered socket subscribers, and the local
// observer. Subscribers are independent; a slow or failing subscriber
// never stalls the others.
package sink
