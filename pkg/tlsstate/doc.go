/*
Package tlsstate tracks the local unit's serving certificate.

The lifecycle is derived from the unit's peer data and the files installed
in the workload, never stored separately:

	no-certificate-requested -> request-sent -> certificate-received -> installed

Certificates come from a Provider. CSRProvider goes through the Kubernetes
certificates API and reads the CA bundle from a config map; LocalProvider
signs with the operator's own CA.
*/
package tlsstate
