// Package collect feeds samples into the pipeline.
//
// Batcher buffers records and writes them as whole batches, which is what
// keeps concurrent writers from interleaving inside the raw log.
// RuntimeCollector samples the daemon's own Go runtime as a metric source.
package collect
