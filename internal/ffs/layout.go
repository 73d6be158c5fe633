package ffs

// RegionID identifies a well-known region within a partition's region
// table (spec §3: "Well-known regions referenced by ID").
type RegionID uint16

const (
	RegionPriorityDesignator RegionID = 1
	RegionBootCounters       RegionID = 2
	RegionConfigData         RegionID = 3
	RegionDRAMTraining       RegionID = 4
	RegionMachineMinion      RegionID = 5
	RegionMasterMinion       RegionID = 6
	RegionWorkerMinion       RegionID = 7
	RegionMaxionBL1          RegionID = 8
	RegionPMICFirmware       RegionID = 9
	RegionCertificates       RegionID = 10
)

// interestingRegions is the set the PartitionScanner validates;
// entries whose ID is outside this set are ignored entirely, per
// spec §4.8.
var interestingRegions = map[RegionID]bool{
	RegionPriorityDesignator: true,
	RegionBootCounters:       true,
	RegionConfigData:         true,
	RegionDRAMTraining:       true,
	RegionMachineMinion:      true,
	RegionMasterMinion:       true,
	RegionWorkerMinion:       true,
	RegionMaxionBL1:          true,
	RegionPMICFirmware:       true,
	RegionCertificates:       true,
}

// IsInteresting reports whether id is one the runtime validates and
// indexes; any other ID present in the on-flash region table is
// simply skipped.
func IsInteresting(id RegionID) bool { return interestingRegions[id] }

// FileTag is the magic identifying a valid FileInfo header.
const FileTag = 0x454C4946 // "FILE"

// PartitionTag is the magic identifying a valid partition header.
const PartitionTag = 0x54524150 // "PART"
