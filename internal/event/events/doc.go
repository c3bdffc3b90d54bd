// Package events defines the topics and payloads published for history
// changes.
package events
