package ble

import (
	"fmt"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// PeripheralOptions describes the advertised GATT service.
type PeripheralOptions struct {
	LocalName   string
	ServiceUUID string
	CharUUID    string
}

// Start enables the default adapter, registers one service with a single
// writable characteristic and starts advertising. Every write is passed to
// HandleWrite.
func (l *Link) Start(opts PeripheralOptions) error {
	serviceUUID, err := bluetooth.ParseUUID(opts.ServiceUUID)
	if err != nil {
		return fmt.Errorf("service UUID %q: %w", opts.ServiceUUID, err)
	}
	charUUID, err := bluetooth.ParseUUID(opts.CharUUID)
	if err != nil {
		return fmt.Errorf("characteristic UUID %q: %w", opts.CharUUID, err)
	}

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("enable BLE adapter: %w", err)
	}

	var rx bluetooth.Characteristic
	err = adapter.AddService(&bluetooth.Service{
		UUID: serviceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &rx,
				UUID:   charUUID,
				Flags:  bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					l.HandleWrite(fmt.Sprint(client), value)
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("register GATT service: %w", err)
	}

	adv := adapter.DefaultAdvertisement()
	err = adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    opts.LocalName,
		ServiceUUIDs: []bluetooth.UUID{serviceUUID},
	})
	if err != nil {
		return fmt.Errorf("configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("start advertisement: %w", err)
	}

	// not every adapter backend can stop advertising
	if s, ok := interface{}(adv).(interface{ Stop() error }); ok {
		l.stop = s.Stop
	}

	l.log.Info("advertising",
		zap.String("name", opts.LocalName),
		zap.String("service", serviceUUID.String()),
		zap.String("characteristic", charUUID.String()),
	)
	return nil
}
