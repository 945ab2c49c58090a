package ovsdriver

// OVSDB client used to point a local OVS bridge at the controller.

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"

	"github.com/contiv/libovsdb"
	"github.com/golang/glog"
)

const (
	ovsDatabase = "Open_vSwitch"

	// openflow version the controller speaks
	ofProtocol = "OpenFlow13"

	// bridge keeps its flows, and drops unmatched traffic, when the
	// controller is away
	failMode = "secure"
)

// OVS driver state
type OvsDriver struct {
	// OVS client
	ovsClient *libovsdb.OvsdbClient

	// Name of the OVS bridge
	ovsBridgeName string

	// OVSDB cache
	cacheMutex sync.Mutex
	ovsdbCache map[string]map[string]libovsdb.Row
}

// Create a new OVS driver connected to the ovsdb server at host:port
func NewOvsDriver(host string, port int, bridgeName string) (*OvsDriver, error) {
	ovs, err := libovsdb.Connect(host, port)
	if err != nil {
		return nil, fmt.Errorf("connecting to ovsdb %s:%d: %w", host, port, err)
	}

	ovsDriver := &OvsDriver{
		ovsClient:     ovs,
		ovsBridgeName: bridgeName,
		ovsdbCache:    make(map[string]map[string]libovsdb.Row),
	}

	// Register for notifications
	ovs.Register(ovsDriver)

	// Populate initial state into cache
	initial, err := ovs.MonitorAll(ovsDatabase, "")
	if err != nil {
		ovs.Disconnect()
		return nil, fmt.Errorf("monitoring ovsdb: %w", err)
	}
	ovsDriver.populateCache(*initial)

	return ovsDriver, nil
}

// Close the ovsdb connection
func (self *OvsDriver) Delete() {
	self.ovsClient.Disconnect()
}

// Populate local cache of ovs state
func (self *OvsDriver) populateCache(updates libovsdb.TableUpdates) {
	self.cacheMutex.Lock()
	defer self.cacheMutex.Unlock()

	for table, tableUpdate := range updates.Updates {
		if _, ok := self.ovsdbCache[table]; !ok {
			self.ovsdbCache[table] = make(map[string]libovsdb.Row)
		}
		for uuid, row := range tableUpdate.Rows {
			empty := libovsdb.Row{}
			if !reflect.DeepEqual(row.New, empty) {
				self.ovsdbCache[table][uuid] = row.New
			} else {
				delete(self.ovsdbCache[table], uuid)
			}
		}
	}
}

// Dump the contents of the cache, tables and rows in name order
func (self *OvsDriver) PrintCache(w io.Writer) {
	self.cacheMutex.Lock()
	defer self.cacheMutex.Unlock()

	fmt.Fprintf(w, "OvsDB Cache:\n")
	for _, tName := range sortedKeys(self.ovsdbCache) {
		table := self.ovsdbCache[tName]
		fmt.Fprintf(w, "Table: %s\n", tName)
		for _, uuid := range sortedKeys(table) {
			fmt.Fprintf(w, "  Row: UUID: %s\n", uuid)
			row := table[uuid]
			for _, fieldName := range sortedKeys(row.Fields) {
				fmt.Fprintf(w, "    Field: %s, Value: %+v\n", fieldName, row.Fields[fieldName])
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get the UUID for root
func (self *OvsDriver) getRootUuid() libovsdb.UUID {
	self.cacheMutex.Lock()
	defer self.cacheMutex.Unlock()

	for uuid := range self.ovsdbCache["Open_vSwitch"] {
		return libovsdb.UUID{uuid}
	}
	return libovsdb.UUID{}
}

// Uuid of a named row in the cache
func (self *OvsDriver) findRow(table, name string) (string, bool) {
	self.cacheMutex.Lock()
	defer self.cacheMutex.Unlock()

	for uuid, row := range self.ovsdbCache[table] {
		if rowName, ok := row.Fields["name"].(string); ok && rowName == name {
			return uuid, true
		}
	}
	return "", false
}

// Wrapper for ovsDB transaction
func (self *OvsDriver) ovsdbTransact(ops []libovsdb.Operation) error {
	glog.V(2).Infof("Transaction: %+v", ops)

	reply, err := self.ovsClient.Transact(ovsDatabase, ops...)
	if err != nil {
		return fmt.Errorf("ovsdb transaction: %w", err)
	}

	return checkReply(ops, reply)
}

func checkReply(ops []libovsdb.Operation, reply []libovsdb.OperationResult) error {
	if len(reply) < len(ops) {
		glog.Errorf("Unexpected number of replies. Expected: %d, Recvd: %d", len(ops), len(reply))
		return errors.New("OVS transaction failed. Unexpected number of replies")
	}

	// Parse reply and look for errors
	for i, o := range reply {
		if o.Error == "" {
			continue
		}
		if i < len(ops) {
			return fmt.Errorf("OVS transaction failed on %s %s: %s (%s)", ops[i].Op, ops[i].Table, o.Error, o.Details)
		}
		return fmt.Errorf("OVS transaction failed: %s (%s)", o.Error, o.Details)
	}

	return nil
}

// **************** OVS driver API ********************

// Create the bridge unless it already exists
func (self *OvsDriver) EnsureBridge() error {
	if _, ok := self.findRow("Bridge", self.ovsBridgeName); ok {
		glog.V(2).Infof("Bridge %s already exists", self.ovsBridgeName)
		return nil
	}

	ops, err := createBridgeOps(self.ovsBridgeName, self.getRootUuid())
	if err != nil {
		return err
	}

	glog.Infof("Creating bridge %s", self.ovsBridgeName)
	return self.ovsdbTransact(ops)
}

// Point the bridge at a controller target such as tcp:127.0.0.1:6633
func (self *OvsDriver) SetController(target string) error {
	ops, err := setControllerOps(self.ovsBridgeName, target)
	if err != nil {
		return err
	}

	glog.Infof("Setting controller of bridge %s to %s", self.ovsBridgeName, target)
	return self.ovsdbTransact(ops)
}

// Datapath id of the bridge as reported by ovs, once the bridge is up
func (self *OvsDriver) BridgeDpid() (string, bool) {
	uuid, ok := self.findRow("Bridge", self.ovsBridgeName)
	if !ok {
		return "", false
	}

	self.cacheMutex.Lock()
	defer self.cacheMutex.Unlock()

	dpid, ok := self.ovsdbCache["Bridge"][uuid].Fields["datapath_id"].(string)
	return dpid, ok && dpid != ""
}

// Insert a bridge row and link it to the root table
func createBridgeOps(bridgeName string, root libovsdb.UUID) ([]libovsdb.Operation, error) {
	namedUuidStr := "hsiabr"

	protocols, err := libovsdb.NewOvsSet([]string{ofProtocol})
	if err != nil {
		return nil, err
	}

	bridge := make(map[string]interface{})
	bridge["name"] = bridgeName
	bridge["protocols"] = protocols
	bridge["fail_mode"] = failMode

	brOp := libovsdb.Operation{
		Op:       "insert",
		Table:    "Bridge",
		Row:      bridge,
		UUIDName: namedUuidStr,
	}

	// Inserting a Bridge row requires mutating the open_vswitch table
	mutateSet, err := libovsdb.NewOvsSet([]libovsdb.UUID{{namedUuidStr}})
	if err != nil {
		return nil, err
	}
	mutation := libovsdb.NewMutation("bridges", "insert", mutateSet)
	condition := libovsdb.NewCondition("_uuid", "==", root)

	mutateOp := libovsdb.Operation{
		Op:        "mutate",
		Table:     "Open_vSwitch",
		Mutations: []interface{}{mutation},
		Where:     []interface{}{condition},
	}

	return []libovsdb.Operation{brOp, mutateOp}, nil
}

// Insert a controller row and make it the only controller of the bridge
func setControllerOps(bridgeName, target string) ([]libovsdb.Operation, error) {
	namedUuidStr := "hsiactrl"

	ctrl := make(map[string]interface{})
	ctrl["target"] = target

	ctrlOp := libovsdb.Operation{
		Op:       "insert",
		Table:    "Controller",
		Row:      ctrl,
		UUIDName: namedUuidStr,
	}

	ctrlSet, err := libovsdb.NewOvsSet([]libovsdb.UUID{{namedUuidStr}})
	if err != nil {
		return nil, err
	}
	protocols, err := libovsdb.NewOvsSet([]string{ofProtocol})
	if err != nil {
		return nil, err
	}

	bridge := make(map[string]interface{})
	bridge["controller"] = ctrlSet
	bridge["protocols"] = protocols
	bridge["fail_mode"] = failMode

	brOp := libovsdb.Operation{
		Op:    "update",
		Table: "Bridge",
		Row:   bridge,
		Where: []interface{}{libovsdb.NewCondition("name", "==", bridgeName)},
	}

	return []libovsdb.Operation{ctrlOp, brOp}, nil
}

// ************************ Notification handler for OVS DB changes ****************
func (self *OvsDriver) Update(context interface{}, tableUpdates libovsdb.TableUpdates) {
	self.populateCache(tableUpdates)
}
func (self *OvsDriver) Disconnected(ovsClient *libovsdb.OvsdbClient) {
	glog.Errorf("OVS DB client disconnected")
}
func (self *OvsDriver) Locked([]interface{}) {
}
func (self *OvsDriver) Stolen([]interface{}) {
}
func (self *OvsDriver) Echo([]interface{}) {
}
