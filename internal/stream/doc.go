// Package stream fans campaign snapshot events out to live subscribers,
// guaranteeing publish-order delivery, a full-snapshot connected event on
// join, and isolation from slow consumers.
package stream
