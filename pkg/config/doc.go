/*
Package config loads the operator configuration.

Sources are applied in order: an optional YAML file, an optional .env file
whose variables join the process environment, KARAPACE_OPERATOR_*
environment overrides, then defaults for anything still unset. The result
is validated with struct tags.

	unit: karapace-0          # defaults to the hostname
	host: 10.0.0.4            # defaults to $POD_IP
	store:
	  backend: secrets        # or bolt with data_dir
	relations:
	  source: secrets         # or static with a kafka block
	tls:
	  enabled: true
	  provider: csr           # or local
	containerd:
	  container_id: 3f2a...
*/
package config
