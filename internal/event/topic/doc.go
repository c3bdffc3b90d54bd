// Package topic defines hierarchical, dot-separated event topics and the
// wildcard matching used by subscriptions.
//
//	history.changed          - exact topic
//	history.*                - any single segment under history
//	history.**               - anything under history, at any depth
package topic
