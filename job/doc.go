// Package job defines the background job entity, the typed definition
// and registry used to bind processors to job kinds, and the store
// contract the queue backends implement.
package job
