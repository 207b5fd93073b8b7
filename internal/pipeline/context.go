package pipeline

import (
	"errors"

	"github.com/cwbudde/clblur/internal/device"
	"github.com/cwbudde/clblur/internal/fault"
)

// ExecContext owns a device context and its single in-order queue.
type ExecContext struct {
	drv    device.Driver
	device Device

	context device.ContextID
	queue   device.QueueID
}

// NewExecContext creates a context bound to dev and one in-order queue on it.
// If the queue cannot be created the context is released before returning.
func NewExecContext(drv device.Driver, dev Device) (*ExecContext, error) {
	ctx, err := drv.CreateContext(dev.ID)
	if err != nil {
		return nil, fault.New(fault.ContextCreationFailed, "create context", err)
	}

	queue, err := drv.CreateQueue(ctx, dev.ID)
	if err != nil {
		qerr := fault.New(fault.QueueCreationFailed, "create command queue", err)
		if rerr := drv.ReleaseContext(ctx); rerr != nil {
			qerr.Err = errors.Join(err, rerr)
		}
		return nil, qerr
	}

	return &ExecContext{drv: drv, device: dev, context: ctx, queue: queue}, nil
}

// Device returns the device the context is bound to.
func (ec *ExecContext) Device() Device {
	return ec.device
}

// Close drains the queue and releases it and the context. It is safe to
// call more than once.
func (ec *ExecContext) Close() error {
	if ec == nil {
		return nil
	}

	var errs []error
	if ec.queue != 0 {
		if err := ec.drv.Flush(ec.queue); err != nil {
			errs = append(errs, err)
		}
		if err := ec.drv.Finish(ec.queue); err != nil {
			errs = append(errs, err)
		}
		if err := ec.drv.ReleaseQueue(ec.queue); err != nil {
			errs = append(errs, err)
		}
		ec.queue = 0
	}
	if ec.context != 0 {
		if err := ec.drv.ReleaseContext(ec.context); err != nil {
			errs = append(errs, err)
		}
		ec.context = 0
	}
	return errors.Join(errs...)
}
