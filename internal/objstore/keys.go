package objstore

// RootPrefix is the top-level folder for every achievement object. Changing it
// orphans every stored object.
const RootPrefix = "achievements"

// ArtifactPrefix returns the key prefix holding all objects of one owner.
func ArtifactPrefix(ownerID string) string {
	return RootPrefix + "/" + ownerID
}

// ArtifactKey returns the object key for an owner's artifact.
func ArtifactKey(ownerID, name string) string {
	return ArtifactPrefix(ownerID) + "/" + name
}
