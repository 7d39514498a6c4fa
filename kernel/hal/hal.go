// Package hal probes the platform devices described by the memory layout and
// keeps track of the console and exit drivers the rest of the kernel uses.
package hal

import (
	"bytes"
	"sort"

	"rotos/device"
	"rotos/kernel/kfmt"
	"rotos/kernel/mem"
)

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	activeConsole device.CharDevice
	activeExit    device.ExitDevice

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

var (
	devices managedDevices
	strBuf  bytes.Buffer

	// driverListFn is mocked by tests.
	driverListFn = device.DriverList
)

// ActiveConsole returns the character device kernel output is sent to.
func ActiveConsole() device.CharDevice {
	return devices.activeConsole
}

// ActiveExit returns the device used to end a run.
func ActiveExit() device.ExitDevice {
	return devices.activeExit
}

// ActiveDrivers returns the drivers initialized by the last call to
// DetectHardware.
func ActiveDrivers() []device.Driver {
	return devices.activeDrivers
}

// DetectHardware publishes the device addresses of layout on bus, probes for
// hardware devices and initializes the appropriate drivers. Any state from a
// previous detection pass is discarded.
func DetectHardware(bus device.Bus, layout *mem.Layout) {
	devices = managedDevices{}
	kfmt.SetOutputSink(nil)

	dev := layout.Devices()
	device.SetPlatform(bus, map[string]uint32{
		"uart": dev.UART,
		"exit": dev.Exit,
	})

	// Get driver list and sort by detection priority
	drivers := driverListFn()
	sort.Sort(drivers)

	probe(drivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) {
	var w = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		onDriverInit(drv)
		devices.activeDrivers = append(devices.activeDrivers, drv)

		// Once the console attaches, the early buffer has been flushed
		// to it and later lines must go there directly.
		w.Sink = kfmt.GetOutputSink()
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized. The first console and exit device found
// become the active ones.
func onDriverInit(drv device.Driver) {
	if cons, ok := drv.(device.CharDevice); ok && devices.activeConsole == nil {
		devices.activeConsole = cons
		kfmt.SetOutputSink(cons)
	}
	if exit, ok := drv.(device.ExitDevice); ok && devices.activeExit == nil {
		devices.activeExit = exit
	}
}
