// Package domain holds the model types and component contracts of the
// punishment engine. It has no dependencies on storage, transport, or the
// enforcement platform; those live behind the interfaces defined here.
package domain
