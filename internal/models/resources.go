package models

// PortRange is an inclusive range of ports offered by a host.
type PortRange struct {
	Begin uint32
	End   uint32
}

// NumPorts returns how many ports remain in the range.
func (p PortRange) NumPorts() uint32 {
	if p.End < p.Begin {
		return 0
	}
	return p.End - p.Begin + 1
}

// Resources is the scalar and ranged resource set carried by both an Offer
// (what is available) and an App (what one instance needs).
type Resources struct {
	CPUs    float64
	MemMB   float64
	DiskMB  float64
	Ports   []PortRange
	NumPort int
}

// Equal reports whether two resource requests ask for the same scalars and
// the same port count. The Ports ranges themselves are not compared.
func (r Resources) Equal(other Resources) bool {
	if r.CPUs != other.CPUs || r.MemMB != other.MemMB || r.DiskMB != other.DiskMB || r.NumPort != other.NumPort {
		return false
	}
	return true
}

// totalPorts sums the number of individual ports across all ranges.
func (r Resources) totalPorts() uint32 {
	var n uint32
	for _, pr := range r.Ports {
		n += pr.NumPorts()
	}
	return n
}

// CanSatisfy reports whether the offered resources r are enough to carve out
// the requested resources need.
func (r Resources) CanSatisfy(need Resources) bool {
	if r.CPUs < need.CPUs || r.MemMB < need.MemMB || r.DiskMB < need.DiskMB {
		return false
	}
	if need.NumPort > 0 && int(r.totalPorts()) < need.NumPort {
		return false
	}
	return true
}

// Subtract returns the resources remaining in r after carving out used.
// Ports are taken from the front of the first range with capacity.
func (r Resources) Subtract(used Resources) Resources {
	remaining := Resources{
		CPUs:   r.CPUs - used.CPUs,
		MemMB:  r.MemMB - used.MemMB,
		DiskMB: r.DiskMB - used.DiskMB,
	}
	toTake := used.NumPort
	for _, pr := range r.Ports {
		if toTake <= 0 {
			remaining.Ports = append(remaining.Ports, pr)
			continue
		}
		avail := pr.NumPorts()
		if uint32(toTake) >= avail {
			toTake -= int(avail)
			continue
		}
		remaining.Ports = append(remaining.Ports, PortRange{
			Begin: pr.Begin + uint32(toTake),
			End:   pr.End,
		})
		toTake = 0
	}
	return remaining
}

// Exhausted reports whether no further resources remain to carve another
// task out of r: every scalar is spent and no ports remain.
func (r Resources) Exhausted() bool {
	return r.CPUs <= 0 && r.MemMB <= 0 && r.DiskMB <= 0 && r.totalPorts() == 0
}

// TakePorts returns up to n ports carved from the front of the range,
// mutating pr to the ports still remaining after them.
func (pr *PortRange) TakePorts(n uint32) []uint32 {
	if n <= 0 || pr.NumPorts() == 0 {
		return nil
	}
	avail := pr.NumPorts()
	if n > avail {
		n = avail
	}
	ports := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		ports = append(ports, pr.Begin+i)
	}
	pr.Begin += n
	return ports
}
