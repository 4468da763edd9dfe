// Package spectrum loads and describes unit metadata documents.
//
// A spectrum names a unit (namespace, name, version), lists the operations it
// exposes as wavelengths with optional JSON schemas, and declares the
// refractions (dependencies on other units) it may call:
//
//	{
//	  "name": "relay", "namespace": "core", "version": "1.0.0",
//	  "wavelengths": [{"frequency": "fetch", "input": {"type": "object"}}],
//	  "refractions": [{
//	    "name": "fetch", "target": "net:fetch", "frequency": "get",
//	    "transpose": {"url": "url"},
//	    "reflection": {"status": "status", "body": "body?"}
//	  }]
//	}
//
// Documents may be JSON or YAML. Schema checks are delegated to
// github.com/google/jsonschema-go through Validator.
package spectrum
