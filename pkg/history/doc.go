// Package history archives terminal execution records in sqlite.
//
// The store implements the engine's Archiver interface, so wiring it
// in is one field on the engine config. Reads serve the history query
// surface; a periodic Purge keeps the table bounded.
package history
