package memory

// MemoryPreference indicates which kind of memory type an allocation should prefer. Preferences
// are soft: if no allowed memory type has the preferred properties, any allowed type is used.
type MemoryPreference int32

const (
	// MemoryPreferenceGPUOnly prefers device-local memory that the host will never access
	MemoryPreferenceGPUOnly MemoryPreference = iota
	// MemoryPreferenceCPUOnly prefers host-visible, host-coherent memory
	MemoryPreferenceCPUOnly
	// MemoryPreferenceCPUToGPU prefers host-visible, host-coherent memory, and among those, memory
	// that is also device-local. It is intended for data written by the host and read by the device.
	MemoryPreferenceCPUToGPU
)

var memoryPreferenceMapping = map[MemoryPreference]string{
	MemoryPreferenceGPUOnly:  "GPUOnly",
	MemoryPreferenceCPUOnly:  "CPUOnly",
	MemoryPreferenceCPUToGPU: "CPUToGPU",
}

func (p MemoryPreference) String() string {
	return memoryPreferenceMapping[p]
}
