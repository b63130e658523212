// Package pipeline drives the asset pipeline end to end.
//
// RunFilter applies one filter profile to a list of files. RunModule walks a
// module document's resources (textures, materials, objects, mods), copies
// each resource's source into the scratch workspace, resolves its filter
// chain and writes the result into the resource flavor's directory. A failing
// resource is logged and counted; the batch always continues.
package pipeline
