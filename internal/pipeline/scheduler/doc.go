// Package scheduler decides which expanded job instances a pipeline run
// executes for a given trigger event. It is a thin filtering layer: the engine
// hands it every instance the matrix expander produced and gets back the
// runnable set plus a reason for everything it left out.
package scheduler
