package pipeline

// Flavor is a resource category of a module document.
type Flavor struct {
	// Key is the list name under "resources".
	Key string
	// DirKey is the configuration key holding the flavor's destination directory.
	DirKey string
}

var (
	Texture  = Flavor{Key: "textures", DirKey: "texture-dir"}
	Material = Flavor{Key: "materials", DirKey: "material-dir"}
	Object   = Flavor{Key: "objects", DirKey: "object-dir"}
	Mod      = Flavor{Key: "mods", DirKey: "mod-dir"}
)

// Flavors lists resource flavors in processing order.
var Flavors = []Flavor{Texture, Material, Object, Mod}
