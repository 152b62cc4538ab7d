// Package registry owns the set of registered script modules. It is the
// single authority over module state between update cycles: state enters it
// at registration, leaves it as an immutable snapshot at cycle start, and
// re-enters it at commit. A reader/writer lock covers the module table;
// enumeration and snapshotting take the read side, commit takes the write
// side, and the lock is never held across a script call or any other
// blocking operation.
package registry
