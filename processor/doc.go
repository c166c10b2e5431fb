// Package processor loads image processing backends and manages the
// containers that pool their handles.
//
// # Modules
//
// A Module is either registered statically (see the loopback and grayscale
// sub-packages) or discovered on disk by Registry.Scan. Dynamic modules are Go
// plugins built with -buildmode=plugin that export
//
//	func GetProcessorModule() processor.Module
//
// Loading happens in two phases. The probe reads an optional manifest.yaml
// from the library directory, checks its abi against ABIVersion, verifies a
// blake3 digest and confirms the entry symbol exists in the ELF dynamic
// symbol table. No module code runs during the probe. Only libraries that
// pass it are opened. A failure in either phase skips that library.
//
//	name: sharpen
//	abi: "1.0"
//	library: sharpen.so
//	digest: blake3:5f1c...
//
// # Containers
//
// AllocateContainer records every container in an arena keyed by
// ContainerID together with the index of the module that created it.
// DestroyContainer always routes the container back to that module, and
// Unload refuses to release a module while any of its containers are alive.
// Close tears everything down in the right order.
//
// Container implementations can embed Lifecycle for init state and use Pool
// to bound the number of outstanding handles.
package processor
