package block

import "physmem/kernel/sync"

// Role identifies what the kernel uses a block device for.
type Role uint8

const (
	// RoleKernel holds the kernel image.
	RoleKernel Role = iota

	// RoleFilesys holds the file system.
	RoleFilesys

	// RoleScratch is scratch space.
	RoleScratch

	// RoleSwap backs evicted pages.
	RoleSwap

	roleCount
)

var roleNames = [...]string{
	RoleKernel:  "kernel",
	RoleFilesys: "filesys",
	RoleScratch: "scratch",
	RoleSwap:    "swap",
}

// String implements fmt.Stringer for Role.
func (r Role) String() string {
	if r < roleCount {
		return roleNames[r]
	}
	return "unknown"
}

var (
	registryLock sync.Spinlock
	byRole       [roleCount]Device
)

// Register binds dev to role, replacing any device that held the role.
// Passing a nil dev clears the role.
func Register(role Role, dev Device) {
	if role >= roleCount {
		return
	}

	registryLock.Acquire()
	byRole[role] = dev
	registryLock.Release()
}

// ForRole returns the device bound to role or nil.
func ForRole(role Role) Device {
	if role >= roleCount {
		return nil
	}

	registryLock.Acquire()
	defer registryLock.Release()
	return byRole[role]
}
